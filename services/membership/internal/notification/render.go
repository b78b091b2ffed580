package notification

import (
	"bytes"
	"fmt"
	"html/template"
)

// Footer — реквизиты организации в подвале письма.
type Footer struct {
	Organization string
	Address      string
	Phone        string
	Email        string
}

type mailTemplate struct {
	subject string
	body    string
}

const layout = `{{define "layout"}}<p>Dear {{if .Event.Name}}{{.Event.Name}}{{else}}Member{{end}},</p>
{{template "body" .Event}}
{{with .Footer}}{{if .Organization}}<hr style="margin: 20px 0; border: 1px solid #ccc;">
<p><strong>{{.Organization}}</strong><br>{{.Address}}</p>
<p><strong>Contact Information</strong><br>{{if .Phone}}Telephone No: {{.Phone}}<br>{{end}}{{if .Email}}E-Mail ID: {{.Email}}{{end}}</p>{{end}}{{end}}{{end}}`

const payButton = `<a href="{{.PaymentURL}}" style="display: inline-block; padding: 10px 20px; margin: 10px 0; background-color: #006600; color: white; text-decoration: none; border-radius: 5px;">Complete Payment</a>`

var templates = map[Kind]mailTemplate{
	KindPaymentInitiated: {
		subject: "Membership Fees Payment Initiated",
		body: `<p>Your payment process for the membership fee has been initiated successfully.</p>
<p>Amount: ₹{{.Amount}}</p>
<p>Transaction ID: {{.TransactionID}}</p>
<p>Please complete the payment using the link below:</p>
` + payButton + `
<p>Thank you!</p>`,
	},
	KindPaymentSucceeded: {
		subject: "Membership Payment Success",
		body: `<p><strong>Your Member ID:</strong> {{.MemberID}}</p>
<p>Your membership fee payment was successful.</p>
<p>Amount: ₹{{.Amount}}</p>
<p>Transaction ID: {{.TransactionID}}</p>
<p>Your membership is now active{{if .ExpiryDate}} until {{.ExpiryDate.Format "02 Jan 2006"}}{{end}}.</p>
<p>Thank you for your payment!</p>`,
	},
	KindPaymentFailed: {
		subject: "Membership Payment Failed",
		body: `<p>Your payment for membership fees failed.</p>
<p>Transaction ID: {{.TransactionID}}</p>
<p>Please try again or contact support for further assistance.</p>`,
	},
	KindRenewalInitiated: {
		subject: "Membership Renewal Payment Initiated",
		body: `<p>Your membership {{.MemberID}} has expired. A renewal payment has been initiated.</p>
<p>Amount: ₹{{.Amount}}</p>
<p>Transaction ID: {{.TransactionID}}</p>
<p>Please complete the payment using the link below:</p>
` + payButton,
	},
	KindMembershipCanceled: {
		subject: "Membership Canceled",
		body: `<p>Your membership {{.MemberID}} has been canceled.</p>
<p>If you believe this is a mistake, please contact support.</p>`,
	},
	KindMembershipExpired: {
		subject: "Membership Expired",
		body: `<p>Your membership {{.MemberID}} has expired{{if .ExpiryDate}} on {{.ExpiryDate.Format "02 Jan 2006"}}{{end}}.</p>
<p>You can renew it at any time to continue your membership.</p>`,
	},
	KindDonationSucceeded: {
		subject: "Thank You for Your Donation",
		body: `<p>We have received your donation of ₹{{.Amount}}.</p>
<p>Transaction ID: {{.TransactionID}}</p>
<p>Thank you for your support!</p>`,
	},
	KindDonationFailed: {
		subject: "Donation Payment Failed",
		body: `<p>Your donation payment could not be completed.</p>
<p>Transaction ID: {{.TransactionID}}</p>
<p>Please try again or contact support for further assistance.</p>`,
	},
}

// Renderer превращает событие в письмо. Шаблоны разбираются один раз при создании.
type Renderer struct {
	footer    Footer
	subjects  map[Kind]string
	templates map[Kind]*template.Template
}

// NewRenderer разбирает все шаблоны писем.
func NewRenderer(footer Footer) (*Renderer, error) {
	base, err := template.New("layout").Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора шаблона письма: %w", err)
	}

	r := &Renderer{
		footer:    footer,
		subjects:  make(map[Kind]string, len(templates)),
		templates: make(map[Kind]*template.Template, len(templates)),
	}
	for kind, mt := range templates {
		t, err := template.Must(base.Clone()).New("body").Parse(mt.body)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора шаблона %s: %w", kind, err)
		}
		r.templates[kind] = t
		r.subjects[kind] = mt.subject
	}
	return r, nil
}

// Render строит письмо для события.
func (r *Renderer) Render(e Event) (Email, error) {
	t, ok := r.templates[e.Kind]
	if !ok {
		return Email{}, fmt.Errorf("нет шаблона для события %q", e.Kind)
	}
	if e.To == "" {
		return Email{}, fmt.Errorf("событие %s без получателя", e.Kind)
	}

	var buf bytes.Buffer
	data := struct {
		Event  Event
		Footer Footer
	}{e, r.footer}
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return Email{}, fmt.Errorf("ошибка рендеринга письма %s: %w", e.Kind, err)
	}

	return Email{To: e.To, Subject: r.subjects[e.Kind], HTML: buf.String()}, nil
}

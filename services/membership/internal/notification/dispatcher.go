// Package notification доставляет письма о событиях платежей и членств.
//
// События пишутся в outbox в одной транзакции с изменением состояния,
// затем публикуются в Kafka (или напрямую, если Kafka не настроена),
// здесь рендерятся в письмо и отправляются через Dispatcher.
package notification

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"example.com/membership-system/pkg/logger"
)

// Attachment — вложение письма.
type Attachment struct {
	Name    string
	Content []byte
}

// Email — готовое к отправке письмо.
type Email struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Dispatcher отправляет письма.
type Dispatcher interface {
	Send(ctx context.Context, email Email) error
}

// =============================================================================
// SMTP
// =============================================================================

// SMTPConfig — параметры почтового сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// SMTPDispatcher отправляет письма через SMTP.
type SMTPDispatcher struct {
	client *mail.Client
	from   string
}

// NewSMTPDispatcher создаёт SMTP клиент. Соединение открывается на каждую отправку.
func NewSMTPDispatcher(cfg SMTPConfig) (*SMTPDispatcher, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания SMTP клиента: %w", err)
	}
	return &SMTPDispatcher{client: client, from: cfg.From}, nil
}

// Send собирает MIME сообщение и отправляет его.
func (d *SMTPDispatcher) Send(ctx context.Context, email Email) error {
	msg, err := buildMessage(d.from, email)
	if err != nil {
		return err
	}
	if err := d.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("ошибка отправки письма: %w", err)
	}
	return nil
}

func buildMessage(from string, email Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("некорректный адрес отправителя: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("некорректный адрес получателя: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextHTML, email.HTML)

	for _, a := range email.Attachments {
		if err := msg.AttachReader(a.Name, bytes.NewReader(a.Content)); err != nil {
			return nil, fmt.Errorf("ошибка вложения %s: %w", a.Name, err)
		}
	}
	return msg, nil
}

// =============================================================================
// Лог вместо почты
// =============================================================================

// LogDispatcher только пишет письмо в лог. Используется, когда SMTP не настроен.
type LogDispatcher struct{}

// Send логирует получателя и тему.
func (LogDispatcher) Send(ctx context.Context, email Email) error {
	logger.Ctx(ctx).Info().
		Str("to", email.To).
		Str("subject", email.Subject).
		Int("attachments", len(email.Attachments)).
		Msg("Письмо не отправлено: SMTP не настроен")
	return nil
}

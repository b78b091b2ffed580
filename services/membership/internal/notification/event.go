package notification

import (
	"context"
	"time"

	"example.com/membership-system/pkg/kafka"
	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/outbox"
)

// Kind — тип события, по которому выбирается шаблон письма.
type Kind string

const (
	KindPaymentInitiated   Kind = "payment_initiated"
	KindPaymentSucceeded   Kind = "payment_succeeded"
	KindPaymentFailed      Kind = "payment_failed"
	KindRenewalInitiated   Kind = "renewal_initiated"
	KindMembershipCanceled Kind = "membership_canceled"
	KindMembershipExpired  Kind = "membership_expired"
	KindDonationSucceeded  Kind = "donation_succeeded"
	KindDonationFailed     Kind = "donation_failed"
)

// Типы агрегатов в outbox.
const (
	AggregateTransaction = "transaction"
	AggregateMembership  = "membership"
)

// Event — данные для письма. Сериализуется в payload записи outbox.
type Event struct {
	Kind          Kind       `json:"kind"`
	To            string     `json:"to"`
	Name          string     `json:"name,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	MemberID      string     `json:"memberId,omitempty"`
	Amount        string     `json:"amount,omitempty"`
	PaymentURL    string     `json:"paymentUrl,omitempty"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`
}

// aggregate выбирает тип и ID агрегата: события об оплате ключуются по транзакции,
// события жизненного цикла членства по member_id.
func (e Event) aggregate() (string, string) {
	switch e.Kind {
	case KindMembershipCanceled, KindMembershipExpired:
		return AggregateMembership, e.MemberID
	}
	return AggregateTransaction, e.TransactionID
}

// NewOutboxRecord готовит запись outbox для события. trace_id и correlation_id
// берутся из ctx, чтобы письмо можно было связать с исходным запросом.
func NewOutboxRecord(ctx context.Context, e Event) (*outbox.Record, error) {
	aggType, aggID := e.aggregate()

	headers := map[string]string{}
	if id := logger.TraceIDFromContext(ctx); id != "" {
		headers[kafka.HeaderTraceID] = id
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		headers[kafka.HeaderCorrelationID] = id
	}

	return outbox.NewRecord(aggType, aggID, string(e.Kind), kafka.TopicNotifications, e, headers)
}

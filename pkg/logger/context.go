package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// requestIDs — идентификаторы, которые попадают в каждую запись лога запроса.
// Хранятся одной структурой: добавление поля копирует её, исходный ctx не меняется.
type requestIDs struct {
	traceID       string // входящий запрос или span OpenTelemetry
	correlationID string // связывает инициацию платежа с callback шлюза
	transactionID string
}

type idsKey struct{}

func idsFrom(ctx context.Context) requestIDs {
	ids, _ := ctx.Value(idsKey{}).(requestIDs)
	return ids
}

func withIDs(ctx context.Context, update func(*requestIDs)) context.Context {
	ids := idsFrom(ctx)
	update(&ids)
	return context.WithValue(ctx, idsKey{}, ids)
}

// NewContextWithIDs добавляет в ctx непустые trace_id и correlation_id.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID == "" && correlationID == "" {
		return ctx
	}
	return withIDs(ctx, func(ids *requestIDs) {
		if traceID != "" {
			ids.traceID = traceID
		}
		if correlationID != "" {
			ids.correlationID = correlationID
		}
	})
}

// WithTransactionID привязывает к ctx идентификатор платёжной транзакции:
// все записи обработки одного платежа ищутся по transaction_id.
func WithTransactionID(ctx context.Context, transactionID string) context.Context {
	return withIDs(ctx, func(ids *requestIDs) { ids.transactionID = transactionID })
}

func TraceIDFromContext(ctx context.Context) string { return idsFrom(ctx).traceID }

func CorrelationIDFromContext(ctx context.Context) string { return idsFrom(ctx).correlationID }

func TransactionIDFromContext(ctx context.Context) string { return idsFrom(ctx).transactionID }

// FromContext возвращает логгер процесса с идентификаторами из ctx.
func FromContext(ctx context.Context) zerolog.Logger {
	ids := idsFrom(ctx)
	zc := log.With()
	for _, f := range [...]struct{ key, val string }{
		{"trace_id", ids.traceID},
		{"correlation_id", ids.correlationID},
		{"transaction_id", ids.transactionID},
	} {
		if f.val != "" {
			zc = zc.Str(f.key, f.val)
		}
	}
	return zc.Logger()
}

// Ctx — то же, что FromContext, но указателем, для цепочек:
//
//	logger.Ctx(ctx).Info().Msg("Платёж подтверждён")
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

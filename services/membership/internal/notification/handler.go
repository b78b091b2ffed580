package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/membership-system/pkg/kafka"
	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/metrics"
)

// Handler рендерит событие из сообщения и отправляет письмо.
type Handler struct {
	renderer   *Renderer
	dispatcher Dispatcher
}

// NewHandler создаёт обработчик событий уведомлений.
func NewHandler(renderer *Renderer, dispatcher Dispatcher) *Handler {
	return &Handler{renderer: renderer, dispatcher: dispatcher}
}

// Handle реализует kafka.MessageHandler.
// Ошибка отправки возвращается вызывающему, чтобы сообщение было повторено;
// неразборчивое или неизвестное событие помечается kafka.Permanent.
func (h *Handler) Handle(ctx context.Context, msg *kafka.Message) error {
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		return kafka.Permanent(fmt.Errorf("некорректное событие уведомления: %w", err))
	}
	return h.Notify(ctx, e)
}

// Notify отправляет письмо для события.
func (h *Handler) Notify(ctx context.Context, e Event) error {
	log := logger.FromContext(ctx).With().
		Str("kind", string(e.Kind)).
		Str("transaction_id", e.TransactionID).
		Str("member_id", e.MemberID).
		Logger()

	email, err := h.renderer.Render(e)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(e.Kind), "render_error").Inc()
		return kafka.Permanent(err)
	}

	if err := h.dispatcher.Send(ctx, email); err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(e.Kind), "error").Inc()
		log.Warn().Err(err).Msg("Не удалось отправить уведомление")
		return err
	}

	metrics.NotificationsTotal.WithLabelValues(string(e.Kind), "sent").Inc()
	log.Info().Msg("Уведомление отправлено")
	return nil
}

// =============================================================================
// Доставка без Kafka
// =============================================================================

// DirectPublisher реализует outbox.Publisher: Outbox Worker передаёт события
// прямо в Handler, минуя брокер. Ошибка отправки вернётся воркеру,
// и запись outbox будет повторена.
type DirectPublisher struct {
	handler *Handler
}

// NewDirectPublisher создаёт publisher для работы без Kafka.
func NewDirectPublisher(h *Handler) *DirectPublisher {
	return &DirectPublisher{handler: h}
}

// SendMessage обрабатывает сообщение синхронно.
func (p *DirectPublisher) SendMessage(ctx context.Context, msg *kafka.Message) error {
	ctx = logger.NewContextWithIDs(ctx, msg.Headers[kafka.HeaderTraceID], msg.Headers[kafka.HeaderCorrelationID])
	return p.handler.Handle(ctx, msg)
}

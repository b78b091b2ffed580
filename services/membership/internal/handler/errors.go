// Package handler содержит HTTP обработчики API сервиса членства.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/services/membership/internal/domain"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const msgInternal = "Внутренняя ошибка сервера"

// errorMapping сопоставляет доменные ошибки с HTTP ответом.
// Пустой message означает, что клиенту отдаётся текст самой ошибки.
var errorMapping = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{domain.ErrValidation, http.StatusBadRequest, "invalid_argument", ""},
	{domain.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{domain.ErrPreconditionFailed, http.StatusConflict, "failed_precondition", ""},
	{domain.ErrInvalidTransition, http.StatusConflict, "failed_precondition", ""},
	{domain.ErrTemporarilyUnavailable, http.StatusServiceUnavailable, "service_unavailable", "Платёжный сервис временно недоступен, повторите попытку позже"},
	{domain.ErrGatewayTransport, http.StatusServiceUnavailable, "service_unavailable", "Платёжный сервис временно недоступен, повторите попытку позже"},
}

// respondError отвечает клиенту по ошибке сервиса. Детали сбоев шлюза и
// внутренних ошибок остаются в логе.
func respondError(c *gin.Context, op string, err error) {
	log := logger.FromContext(c.Request.Context()).With().Str("op", op).Logger()

	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		if m.status >= http.StatusInternalServerError {
			log.Warn().Err(err).Msg("Платёжный сервис недоступен")
		}
		abort(c, m.status, m.code, msg)
		return
	}

	log.Error().Err(err).Msg("Внутренняя ошибка")
	abort(c, http.StatusInternalServerError, "internal_error", msgInternal)
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}

// badRequest отвечает 400 на тело запроса, которое не прошло binding.
func badRequest(c *gin.Context, err error) {
	logger.Ctx(c.Request.Context()).Debug().Err(err).Msg("Невалидный запрос")
	abort(c, http.StatusBadRequest, "invalid_request", "Невалидные данные запроса")
}

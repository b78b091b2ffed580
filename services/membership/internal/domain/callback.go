package domain

import (
	"encoding/json"
	"time"
)

// CallbackLog — ответ шлюза на запрос статуса, сохраняемый для разбора спорных платежей.
type CallbackLog struct {
	ID            string
	TransactionID string
	Success       bool
	Code          string
	Raw           json.RawMessage
	CreatedAt     time.Time
}

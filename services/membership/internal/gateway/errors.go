package gateway

import (
	"fmt"

	"example.com/membership-system/services/membership/internal/domain"
)

// TransportError — сбой связи со шлюзом: сеть, таймаут, 5xx, отказ подписи,
// неразборчивый ответ. Не означает, что платёж не прошёл.
type TransportError struct {
	Op         string // initiate / status
	StatusCode int    // 0, если ответ не получен
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("шлюз %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("шлюз %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is позволяет сравнивать через errors.Is(err, domain.ErrGatewayTransport).
func (e *TransportError) Is(target error) bool {
	return target == domain.ErrGatewayTransport
}

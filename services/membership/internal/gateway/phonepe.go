// Package gateway содержит клиент платёжного шлюза PhonePe (pay page).
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"example.com/membership-system/pkg/circuitbreaker"
	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/metrics"
	"example.com/membership-system/pkg/tracing"
)

// Коды ответа шлюза на запрос статуса.
const (
	CodePaymentSuccess      = "PAYMENT_SUCCESS"
	CodePaymentPending      = "PAYMENT_PENDING"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

const (
	redirectModeRedirect = "REDIRECT"
	instrumentPayPage    = "PAY_PAGE"

	// maxResponseBytes ограничивает чтение тела ответа шлюза.
	maxResponseBytes = 1 << 20
)

// Config — параметры подключения к шлюзу. Секреты приходят из окружения.
type Config struct {
	MerchantID string
	SaltKey    string
	SaltIndex  int
	HostURL    string
	PayPath    string
	StatusPath string
	Timeout    time.Duration
}

// InitiateRequest — данные для создания платёжной сессии.
type InitiateRequest struct {
	TransactionID string
	PayerID       string
	Amount        decimal.Decimal
	PayerPhone    string
	// RedirectURL — базовый адрес callback, к нему добавляется /<TransactionID>.
	RedirectURL string
}

// ProviderStatus — ответ шлюза на запрос статуса.
type ProviderStatus struct {
	Success bool
	Code    string
	Raw     json.RawMessage
}

// Pending возвращает true, если шлюз ещё не знает итог платежа.
// Такой платёж нельзя помечать ни completed, ни failed.
func (s *ProviderStatus) Pending() bool {
	return s.Code == CodePaymentPending || s.Code == CodeInternalServerError
}

// PhonePeClient — HTTP клиент PhonePe с circuit breaker, метриками и трассировкой.
type PhonePeClient struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
	tracer  trace.Tracer
}

// Option настраивает PhonePeClient.
type Option func(*PhonePeClient)

// WithHTTPClient подменяет HTTP клиент (используется в тестах).
func WithHTTPClient(c *http.Client) Option {
	return func(p *PhonePeClient) { p.http = c }
}

// WithBreaker подменяет circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(p *PhonePeClient) { p.breaker = b }
}

// NewPhonePeClient создаёт клиент шлюза.
func NewPhonePeClient(cfg Config, opts ...Option) *PhonePeClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.HostURL = strings.TrimRight(cfg.HostURL, "/")

	c := &PhonePeClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		// Сбоем считается только транспортная ошибка
		breaker: circuitbreaker.NewWithSettings("phonepe", circuitbreaker.DefaultSettings(), isTransport),
		tracer:  tracing.Tracer("membership/gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// =============================================================================
// Инициация платежа
// =============================================================================

type payRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type payResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Data    struct {
		InstrumentResponse struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// Initiate создаёт платёжную сессию и возвращает адрес платёжной страницы.
// Пустой URL в ответе считается ошибкой: без него у плательщика нет пути к оплате.
func (c *PhonePeClient) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "phonepe.Initiate", trace.WithAttributes(
		attribute.String("transaction_id", req.TransactionID),
	))
	defer span.End()

	start := time.Now()
	var pageURL string

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		pageURL, err = c.initiate(ctx, req)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = &TransportError{Op: "initiate", Err: err}
	}

	c.finish(ctx, span, "initiate", start, err)
	if err != nil {
		return "", err
	}
	return pageURL, nil
}

func (c *PhonePeClient) initiate(ctx context.Context, req InitiateRequest) (string, error) {
	redirect := strings.TrimRight(req.RedirectURL, "/") + "/" + req.TransactionID
	payload := payRequest{
		MerchantID:            c.cfg.MerchantID,
		MerchantTransactionID: req.TransactionID,
		MerchantUserID:        req.PayerID,
		Amount:                req.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		RedirectURL:           redirect,
		RedirectMode:          redirectModeRedirect,
		CallbackURL:           redirect,
		MobileNumber:          req.PayerPhone,
		PaymentInstrument:     paymentInstrument{Type: instrumentPayPage},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации запроса: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HostURL+c.cfg.PayPath, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Op: "initiate", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", Checksum(encoded, c.cfg.PayPath, c.cfg.SaltKey, c.cfg.SaltIndex))

	respBody, err := c.do(httpReq, "initiate")
	if err != nil {
		return "", err
	}

	var resp payResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &TransportError{Op: "initiate", Err: fmt.Errorf("ответ не разобран: %w", err)}
	}
	url := resp.Data.InstrumentResponse.RedirectInfo.URL
	if url == "" {
		return "", &TransportError{Op: "initiate", Err: fmt.Errorf("в ответе нет адреса платёжной страницы (code=%s)", resp.Code)}
	}
	return url, nil
}

// =============================================================================
// Запрос статуса
// =============================================================================

type statusResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
}

// CheckStatus запрашивает у шлюза итог платежа.
// Таймаут, 5xx и неразборчивый ответ возвращаются как *TransportError, а не как неуспех.
func (c *PhonePeClient) CheckStatus(ctx context.Context, transactionID string) (*ProviderStatus, error) {
	ctx, span := c.tracer.Start(ctx, "phonepe.CheckStatus", trace.WithAttributes(
		attribute.String("transaction_id", transactionID),
	))
	defer span.End()

	start := time.Now()
	var status *ProviderStatus

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		status, err = c.checkStatus(ctx, transactionID)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = &TransportError{Op: "status", Err: err}
	}

	c.finish(ctx, span, "status", start, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("phonepe.code", status.Code))
	return status, nil
}

func (c *PhonePeClient) checkStatus(ctx context.Context, transactionID string) (*ProviderStatus, error) {
	path := fmt.Sprintf("%s/%s/%s", c.cfg.StatusPath, c.cfg.MerchantID, transactionID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HostURL+path, nil)
	if err != nil {
		return nil, &TransportError{Op: "status", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", Checksum("", path, c.cfg.SaltKey, c.cfg.SaltIndex))
	httpReq.Header.Set("X-MERCHANT-ID", c.cfg.MerchantID)

	body, err := c.do(httpReq, "status")
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{Op: "status", Err: fmt.Errorf("ответ не разобран: %w", err)}
	}

	return &ProviderStatus{
		Success: resp.Success && (resp.Code == "" || resp.Code == CodePaymentSuccess),
		Code:    resp.Code,
		Raw:     json.RawMessage(body),
	}, nil
}

// do выполняет запрос. Любой ответ кроме 2xx — транспортная ошибка:
// 4xx у PhonePe означает проблему подписи или конфигурации, а не отказ плательщика.
func (c *PhonePeClient) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("неожиданный ответ шлюза")}
	}
	return body, nil
}

func (c *PhonePeClient) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "transport_error"
		if errors.Is(err, circuitbreaker.ErrOpen) {
			result = "breaker_open"
		}
		tracing.Fail(span, err)
		logger.Ctx(ctx).Warn().Err(err).Str("operation", op).Msg("Ошибка обращения к платёжному шлюзу")
	}
	metrics.RecordGatewayCall(op, result, time.Since(start))
}

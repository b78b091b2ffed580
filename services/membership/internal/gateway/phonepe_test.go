package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/membership-system/pkg/circuitbreaker"
	"example.com/membership-system/services/membership/internal/domain"
)

const (
	testMerchant = "MERCHANTUAT"
	testSalt     = "test-salt-key"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *PhonePeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewPhonePeClient(Config{
		MerchantID: testMerchant,
		SaltKey:    testSalt,
		SaltIndex:  1,
		HostURL:    srv.URL + "/",
		PayPath:    "/pg/v1/pay",
		StatusPath: "/pg/v1/status",
		Timeout:    time.Second,
	}, opts...)
}

func TestChecksum(t *testing.T) {
	sum := sha256.Sum256([]byte("payload/pg/v1/pay" + testSalt))
	assert.Equal(t, hex.EncodeToString(sum[:])+"###2", Checksum("payload", "/pg/v1/pay", testSalt, 2))

	// Детерминированность: одинаковый вход даёт одинаковую подпись
	assert.Equal(t, Checksum("a", "/p", "s", 1), Checksum("a", "/p", "s", 1))
}

func TestInitiate_Success(t *testing.T) {
	var gotPayload payRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pg/v1/pay", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, Checksum(body["request"], "/pg/v1/pay", testSalt, 1), r.Header.Get("X-VERIFY"))

		raw, err := base64.StdEncoding.DecodeString(body["request"])
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &gotPayload))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"code":"PAYMENT_INITIATED","data":{"instrumentResponse":{"type":"PAY_PAGE","redirectInfo":{"url":"https://pay.example/page/1","method":"GET"}}}}`)
	})

	url, err := client.Initiate(context.Background(), InitiateRequest{
		TransactionID: "TX1234567890123456",
		PayerID:       "INL000001",
		Amount:        decimal.RequireFromString("100.50"),
		PayerPhone:    "9000000000",
		RedirectURL:   "https://api.example/membership/payment/status/",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/page/1", url)
	assert.Equal(t, testMerchant, gotPayload.MerchantID)
	assert.Equal(t, int64(10050), gotPayload.Amount)
	assert.Equal(t, "https://api.example/membership/payment/status/TX1234567890123456", gotPayload.RedirectURL)
	assert.Equal(t, gotPayload.RedirectURL, gotPayload.CallbackURL)
	assert.Equal(t, "REDIRECT", gotPayload.RedirectMode)
	assert.Equal(t, "PAY_PAGE", gotPayload.PaymentInstrument.Type)
	assert.Equal(t, "INL000001", gotPayload.MerchantUserID)
}

func TestInitiate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"пустой URL", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"success":false,"code":"BAD_REQUEST","data":{}}`)
		}},
		{"не JSON", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>oops</html>`)
		}},
		{"ошибка подписи 401", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"5xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			url, err := client.Initiate(context.Background(), InitiateRequest{TransactionID: "TX1", Amount: decimal.NewFromInt(1)})

			assert.Empty(t, url)
			assert.ErrorIs(t, err, domain.ErrGatewayTransport)
			var te *TransportError
			assert.True(t, errors.As(err, &te))
		})
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSuccess bool
		wantPending bool
	}{
		{"успех", `{"success":true,"code":"PAYMENT_SUCCESS","data":{"state":"COMPLETED"}}`, true, false},
		{"отказ", `{"success":false,"code":"PAYMENT_ERROR"}`, false, false},
		{"в обработке", `{"success":false,"code":"PAYMENT_PENDING"}`, false, true},
		{"неоднозначный ответ", `{"success":false,"code":"INTERNAL_SERVER_ERROR"}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				path := "/pg/v1/status/" + testMerchant + "/TX1"
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, path, r.URL.Path)
				assert.Equal(t, Checksum("", path, testSalt, 1), r.Header.Get("X-VERIFY"))
				assert.Equal(t, testMerchant, r.Header.Get("X-MERCHANT-ID"))
				_, _ = io.WriteString(w, tt.body)
			})

			status, err := client.CheckStatus(context.Background(), "TX1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, status.Success)
			assert.Equal(t, tt.wantPending, status.Pending())
			assert.JSONEq(t, tt.body, string(status.Raw))
		})
	}
}

// Таймаут шлюза — транспортная ошибка, а не «платёж не прошёл».
func TestCheckStatus_Timeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	client.http.Timeout = 50 * time.Millisecond
	defer close(release)

	status, err := client.CheckStatus(context.Background(), "TX1")
	assert.Nil(t, status)
	assert.ErrorIs(t, err, domain.ErrGatewayTransport)
}

func TestCheckStatus_BreakerOpen(t *testing.T) {
	calls := 0
	breaker := circuitbreaker.NewWithSettings("phonepe-test", circuitbreaker.Settings{
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, FailureRatio: 0.5, MinRequests: 1,
	}, isTransport)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithBreaker(breaker))

	_, err := client.CheckStatus(context.Background(), "TX1")
	require.ErrorIs(t, err, domain.ErrGatewayTransport)

	_, err = client.CheckStatus(context.Background(), "TX1")
	assert.ErrorIs(t, err, domain.ErrGatewayTransport)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 1, calls, "при открытом breaker шлюз не вызывается")
}

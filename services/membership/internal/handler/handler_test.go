package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/membership-system/pkg/jwt"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/middleware"
	"example.com/membership-system/services/membership/internal/service"
	"example.com/membership-system/services/membership/internal/sweeper"
)

// =============================================================================
// Моки
// =============================================================================

type MockMembershipService struct {
	mock.Mock
}

func (m *MockMembershipService) InitiateFeePayment(ctx context.Context, req service.FeePaymentRequest) (*service.PaymentInitiation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PaymentInitiation), args.Error(1)
}

func (m *MockMembershipService) HandlePaymentCallback(ctx context.Context, transactionID string) (*service.CallbackOutcome, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CallbackOutcome), args.Error(1)
}

func (m *MockMembershipService) Renew(ctx context.Context, req service.RenewRequest) (*service.RenewalResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RenewalResult), args.Error(1)
}

func (m *MockMembershipService) Cancel(ctx context.Context, memberID string) (*domain.Membership, error) {
	args := m.Called(ctx, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Membership), args.Error(1)
}

func (m *MockMembershipService) CheckMembership(ctx context.Context, email, phone string) (*service.CheckResult, error) {
	args := m.Called(ctx, email, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CheckResult), args.Error(1)
}

func (m *MockMembershipService) ExpireMembership(ctx context.Context, ms *domain.Membership) (bool, error) {
	args := m.Called(ctx, ms)
	return args.Bool(0), args.Error(1)
}

func (m *MockMembershipService) InitiateDonation(ctx context.Context, req service.DonationRequest) (*service.DonationInitiation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DonationInitiation), args.Error(1)
}

func (m *MockMembershipService) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockMembershipService) GetMembership(ctx context.Context, memberID string) (*domain.Membership, error) {
	args := m.Called(ctx, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Membership), args.Error(1)
}

type stubSweeper struct {
	report sweeper.Report
	err    error
}

func (s stubSweeper) Sweep(context.Context) (sweeper.Report, error) { return s.report, s.err }

type stubVerifier struct{}

func (stubVerifier) RequireRole(token, _ string) (*jwt.Claims, error) {
	if token == "admin-token" {
		return &jwt.Claims{UserID: "admin-1"}, nil
	}
	return nil, jwt.ErrForbidden
}

// =============================================================================
// Вспомогательные функции
// =============================================================================

func setupRouter(svc *MockMembershipService, sw SweepRunner) *gin.Engine {
	return NewRouter(RouterConfig{
		Service: svc,
		Sweeper: sw,
		Redirects: RedirectURLs{
			Success: "https://example.org/memberships-success",
			Failure: "https://example.org/membership-fail",
			Pending: "https://example.org/membership-pending",
		},
		AdminAuth:   middleware.NewAdminAuth(stubVerifier{}, "admin"),
		ServiceName: "membership-test",
	}).Engine()
}

func doJSON(r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// POST /membership
// =============================================================================

func TestCreateFeePayment(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)

	svc.On("InitiateFeePayment", mock.Anything, mock.MatchedBy(func(req service.FeePaymentRequest) bool {
		return req.Amount.Equal(decimal.NewFromInt(100)) &&
			req.ValidityMonths == 36 &&
			req.Phone == "9876543210" &&
			req.Type == defaultMembershipType
	})).Return(&service.PaymentInitiation{
		PaymentURL:    "https://pay.example/session",
		TransactionID: "TX0000000000000001",
		MemberID:      "INL000001",
	}, nil)

	w := doJSON(r, http.MethodPost, "/membership", map[string]any{
		"amount":       100,
		"validity":     36,
		"email":        "member@example.com",
		"mobileNumber": "9876543210",
	}, "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp PaymentInitiationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.example/session", resp.PaymentPageURL)
	assert.Equal(t, "INL000001", resp.MemberID)
}

func TestCreateFeePayment_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"валидация", domain.NewValidationError("mobileNumber", "должен содержать 10 цифр"), http.StatusBadRequest, "invalid_argument"},
		{"членство активно", domain.Precondition("членство INL000001 уже активно"), http.StatusConflict, "failed_precondition"},
		{"шлюз недоступен", fmt.Errorf("ошибка инициации платежа: %w", &gateway.TransportError{Op: "initiate", StatusCode: 502}), http.StatusServiceUnavailable, "service_unavailable"},
		{"ID исчерпаны", domain.ErrTemporarilyUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"неизвестная ошибка", fmt.Errorf("db: connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockMembershipService{}
			r := setupRouter(svc, nil)
			svc.On("InitiateFeePayment", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := doJSON(r, http.MethodPost, "/membership", map[string]any{
				"amount": 100, "validity": 36, "email": "a@b.com", "mobileNumber": "9876543210",
			}, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.NotContains(t, resp.Message, "connection reset")
		})
	}
}

func TestCreateFeePayment_InvalidBody(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)

	w := doJSON(r, http.MethodPost, "/membership", map[string]any{"amount": 100}, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "InitiateFeePayment", mock.Anything, mock.Anything)
}

// =============================================================================
// Callback
// =============================================================================

func TestPaymentCallback_Redirects(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		status domain.PaymentStatus
		want   string
	}{
		{"успех", http.MethodPost, "/membership/payment/status/TX1", domain.PaymentStatusCompleted, "https://example.org/memberships-success?transactionId=TX1"},
		{"отказ", http.MethodGet, "/membership/payment/status/TX1", domain.PaymentStatusFailed, "https://example.org/membership-fail?transactionId=TX1"},
		{"в обработке", http.MethodPost, "/membership/payment/status/TX1", domain.PaymentStatusPending, "https://example.org/membership-pending?transactionId=TX1"},
		{"пожертвование", http.MethodGet, "/donation/payment/status/TX1", domain.PaymentStatusCompleted, "https://example.org/memberships-success?transactionId=TX1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockMembershipService{}
			r := setupRouter(svc, nil)
			svc.On("HandlePaymentCallback", mock.Anything, "TX1").
				Return(&service.CallbackOutcome{TransactionID: "TX1", Status: tt.status}, nil)

			w := doJSON(r, tt.method, tt.path, nil, "")

			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Location"))
		})
	}
}

func TestPaymentCallback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"неизвестная транзакция", domain.ErrTransactionNotFound, http.StatusNotFound},
		{"шлюз недоступен", &gateway.TransportError{Op: "status", StatusCode: 503}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockMembershipService{}
			r := setupRouter(svc, nil)
			svc.On("HandlePaymentCallback", mock.Anything, "TX404").Return(nil, tt.err)

			w := doJSON(r, http.MethodPost, "/membership/payment/status/TX404", nil, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, w.Header().Get("Location"))
		})
	}
}

// =============================================================================
// Renew / Cancel / CheckMembership / Donation
// =============================================================================

func TestRenew(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)

	svc.On("Renew", mock.Anything, mock.MatchedBy(func(req service.RenewRequest) bool {
		return req.MemberID == "INL000001" && req.ValidityMonths == 12 &&
			req.Email == "member@example.com" && req.Phone == "9876543210"
	})).Return(&service.RenewalResult{
		Membership:    &domain.Membership{MemberID: "INL000001", Status: domain.MembershipStatusInactive, Fee: decimal.NewFromInt(150), ValidityMonths: 12},
		PaymentURL:    "https://pay.example/renewal",
		TransactionID: "TX0000000000000002",
	}, nil)

	w := doJSON(r, http.MethodPost, "/membership/renew", map[string]any{
		"memberId": "INL000001", "email": "member@example.com", "mobileNumber": "9876543210", "amount": "150", "validity": 12,
	}, "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp RenewalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "inactive", resp.Membership.Status)
	assert.Equal(t, "150", resp.Membership.Fee)
	assert.Equal(t, "https://pay.example/renewal", resp.PaymentPageURL)
}

func TestRenew_ActiveMembershipConflict(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)
	svc.On("Renew", mock.Anything, mock.Anything).
		Return(nil, domain.Precondition("продление возможно только для истёкшего членства, текущий статус active"))

	w := doJSON(r, http.MethodPost, "/membership/renew", map[string]any{
		"memberId": "INL000001", "email": "member@example.com", "mobileNumber": "9876543210", "amount": 150, "validity": 12,
	}, "")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRenew_RequiresContact(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)

	w := doJSON(r, http.MethodPost, "/membership/renew", map[string]any{"memberId": "INL000001", "amount": 150, "validity": 12}, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Renew", mock.Anything, mock.Anything)
}

func TestCancel_RequiresAdmin(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)

	w := doJSON(r, http.MethodPost, "/membership/cancel", map[string]any{"memberId": "INL000001"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/membership/cancel", map[string]any{"memberId": "INL000001"}, "user-token")
	assert.Equal(t, http.StatusForbidden, w.Code)

	svc.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestCancel(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)
	svc.On("Cancel", mock.Anything, "INL000001").
		Return(&domain.Membership{MemberID: "INL000001", Status: domain.MembershipStatusCanceled}, nil)

	w := doJSON(r, http.MethodPost, "/membership/cancel", map[string]any{"memberId": "INL000001"}, "admin-token")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"canceled"`)
}

func TestCheckMembership(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)

	svc.On("CheckMembership", mock.Anything, "a@b.com", "9876543210").Return(&service.CheckResult{
		Status:     domain.MembershipStatusActive,
		Membership: &domain.Membership{MemberID: "INL000001", Status: domain.MembershipStatusActive},
		Member:     &domain.Member{ID: "m-1", FullName: "Asha Rao", MembershipStatus: domain.MembershipStatusActive, MemberID: "INL000001"},
	}, nil)
	svc.On("CheckMembership", mock.Anything, "none@b.com", "9876543210").Return(nil, domain.ErrMembershipNotFound)

	w := doJSON(r, http.MethodPost, "/member/check-membership", map[string]any{"email": "a@b.com", "phone": "9876543210"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp CheckMembershipResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp.Status)
	require.NotNil(t, resp.Member)
	assert.Equal(t, "INL000001", resp.Member.MemberID)

	w = doJSON(r, http.MethodPost, "/member/check-membership", map[string]any{"email": "none@b.com", "phone": "9876543210"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateDonation(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)
	svc.On("InitiateDonation", mock.Anything, mock.MatchedBy(func(req service.DonationRequest) bool {
		return req.IsAnonymous && req.Amount.Equal(decimal.NewFromInt(500))
	})).Return(&service.DonationInitiation{PaymentURL: "https://pay.example/donation", TransactionID: "TX1"}, nil)

	w := doJSON(r, http.MethodPost, "/donation", map[string]any{
		"donorEmail": "anon@example.com", "donorPhone": "9123456789", "amount": 500, "isAnonymous": true,
	}, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"paymentUrl":"https://pay.example/donation"`)
}

// =============================================================================
// Admin
// =============================================================================

func TestAdmin_GetTransaction(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)
	svc.On("GetTransaction", mock.Anything, "TX1").Return(&domain.Transaction{
		TransactionID: "TX1",
		Type:          domain.TransactionTypeMembershipFees,
		PaymentStatus: domain.PaymentStatusCompleted,
		Amount:        decimal.RequireFromString("100.50"),
	}, nil)

	w := doJSON(r, http.MethodGet, "/admin/transactions/TX1", nil, "admin-token")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"amount":"100.5"`)
	assert.Contains(t, w.Body.String(), `"paymentStatus":"completed"`)
}

func TestAdmin_Reconcile(t *testing.T) {
	svc := &MockMembershipService{}
	r := setupRouter(svc, nil)
	svc.On("HandlePaymentCallback", mock.Anything, "TX1").
		Return(&service.CallbackOutcome{TransactionID: "TX1", Status: domain.PaymentStatusCompleted, Duplicate: true}, nil)

	w := doJSON(r, http.MethodPost, "/admin/transactions/TX1/reconcile", nil, "admin-token")

	require.Equal(t, http.StatusOK, w.Code)
	var resp ReconcileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Duplicate)
}

func TestAdmin_RunSweeper(t *testing.T) {
	t.Run("итог запуска", func(t *testing.T) {
		r := setupRouter(&MockMembershipService{}, stubSweeper{report: sweeper.Report{Scanned: 2, Expired: 2}})
		w := doJSON(r, http.MethodPost, "/admin/sweeper/run", nil, "admin-token")

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"scanned":2,"expired":2,"renewed":0,"failed":0}`, w.Body.String())
	})

	t.Run("уже выполняется", func(t *testing.T) {
		r := setupRouter(&MockMembershipService{}, stubSweeper{err: sweeper.ErrAlreadyRunning})
		w := doJSON(r, http.MethodPost, "/admin/sweeper/run", nil, "admin-token")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("планировщик отключён", func(t *testing.T) {
		r := setupRouter(&MockMembershipService{}, nil)
		w := doJSON(r, http.MethodPost, "/admin/sweeper/run", nil, "admin-token")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestReadiness(t *testing.T) {
	r := NewRouter(RouterConfig{
		Service:        &MockMembershipService{},
		ReadinessCheck: func(context.Context) error { return fmt.Errorf("redis down") },
	}).Engine()

	w := doJSON(r, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Без AdminAuth админские маршруты не регистрируются
	w = doJSON(r, http.MethodGet, "/admin/transactions/TX1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

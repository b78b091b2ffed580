package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/middleware"
	"example.com/membership-system/services/membership/internal/service"
	"example.com/membership-system/services/membership/internal/testutil"
)

// Полный путь оплаты через HTTP: инициация, возврат со страницы шлюза,
// повторный callback и сверка профиля. Сервис настоящий, хранилище — SQLite.
func TestMembershipFlow(t *testing.T) {
	store, _ := testutil.NewStore(t)
	gw := &testutil.MockGateway{}
	svc := service.NewMembershipService(store, gw, &testutil.SeqIDs{}, service.Config{
		CallbackBaseURL: "https://api.example.org/membership/payment/status",
	})
	r := NewRouter(RouterConfig{
		Service: svc,
		Redirects: RedirectURLs{
			Success: "https://example.org/memberships-success",
			Failure: "https://example.org/membership-fail",
		},
		AdminAuth: middleware.NewAdminAuth(stubVerifier{}, "admin"),
	}).Engine()

	ctx := context.Background()
	require.NoError(t, store.Members().Create(ctx, &domain.Member{FullName: "Asha Rao", Email: "member@example.com", Phone: "9876543210"}))

	const txID = "TX0000000000000001"
	gw.On("Initiate", mock.Anything, mock.MatchedBy(func(req gateway.InitiateRequest) bool {
		return req.TransactionID == txID && req.RedirectURL == "https://api.example.org/membership/payment/status"
	})).Return("https://pay.example/session/1", nil).Once()
	gw.On("CheckStatus", mock.Anything, txID).Return(testutil.Paid(), nil).Once()

	// 1. Инициация
	w := doJSON(r, http.MethodPost, "/membership", map[string]any{
		"amount": 100, "validity": 12, "email": "Member@Example.com", "mobileNumber": "+91 98765-43210",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var init PaymentInitiationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &init))
	assert.Equal(t, txID, init.TransactionID)
	assert.Equal(t, "INL000001", init.MemberID)

	// Пока платёж не подтверждён, членство неактивно
	w = doJSON(r, http.MethodPost, "/member/check-membership", map[string]any{"email": "member@example.com", "phone": "9876543210"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"inactive"`)

	// 2. Callback: шлюз подтвердил оплату
	w = doJSON(r, http.MethodPost, "/membership/payment/status/"+txID, nil, "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.org/memberships-success?transactionId="+txID, w.Header().Get("Location"))

	// 3. Повторный callback ведёт туда же и шлюз больше не опрашивает
	w = doJSON(r, http.MethodGet, "/membership/payment/status/"+txID, nil, "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.org/memberships-success?transactionId="+txID, w.Header().Get("Location"))
	gw.AssertNumberOfCalls(t, "CheckStatus", 1)

	// 4. Сверка профиля
	w = doJSON(r, http.MethodPost, "/member/check-membership", map[string]any{"email": "member@example.com", "phone": "9876543210"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var check CheckMembershipResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.Equal(t, "active", check.Status)
	require.NotNil(t, check.Member)
	assert.Equal(t, "INL000001", check.Member.MemberID)

	// 5. Повторная оплата при активном членстве отклоняется
	w = doJSON(r, http.MethodPost, "/membership", map[string]any{
		"amount": 100, "validity": 12, "email": "member@example.com", "mobileNumber": "9876543210",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// 6. Продление активного членства невозможно
	w = doJSON(r, http.MethodPost, "/membership/renew", map[string]any{
		"memberId": "INL000001", "email": "member@example.com", "mobileNumber": "9876543210", "amount": 100, "validity": 12,
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// 7. Администратор видит завершённую транзакцию
	w = doJSON(r, http.MethodGet, "/admin/transactions/"+txID, nil, "admin-token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"paymentStatus":"completed"`)

	gw.AssertExpectations(t)
}

package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/service"
	"example.com/membership-system/services/membership/internal/testutil"
)

func TestReconcileOnce(t *testing.T) {
	store, db := testutil.NewStore(t)
	ctx := context.Background()
	gw := &testutil.MockGateway{}
	svc := service.NewMembershipService(store, gw, &testutil.SeqIDs{}, service.Config{
		CallbackBaseURL: "https://api.example.org/payment/callback",
	})

	gw.On("Initiate", mock.Anything, mock.Anything).Return("https://pay.example/session", nil)

	paid, err := svc.InitiateDonation(ctx, service.DonationRequest{
		DonorName: "Ravi", DonorEmail: "ravi@example.com", DonorPhone: "9123456789", Amount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	unreachable, err := svc.InitiateDonation(ctx, service.DonationRequest{
		DonorName: "Mira", DonorEmail: "mira@example.com", DonorPhone: "9123456780", Amount: decimal.NewFromInt(20),
	})
	require.NoError(t, err)

	gw.On("CheckStatus", mock.Anything, paid.TransactionID).Return(testutil.Paid(), nil)
	gw.On("CheckStatus", mock.Anything, unreachable.TransactionID).
		Return(nil, &gateway.TransportError{Op: "status", StatusCode: 503})

	// Обе транзакции старше порога
	require.NoError(t, db.Exec("UPDATE transactions SET created_at = ?", time.Now().UTC().Add(-time.Hour)).Error)

	r := New(store.Transactions(), svc, Config{Interval: time.Minute, PendingAfter: 15 * time.Minute, BatchSize: 10})
	assert.Equal(t, 1, r.ReconcileOnce(ctx))

	tx, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, tx.PaymentStatus)

	tx, err = svc.GetTransaction(ctx, unreachable.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, tx.PaymentStatus)

	// Повторный цикл опрашивает только оставшуюся pending транзакцию
	assert.Equal(t, 0, r.ReconcileOnce(ctx))
	gw.AssertNumberOfCalls(t, "CheckStatus", 3)
}

func TestReconcileOnce_SkipsFreshTransactions(t *testing.T) {
	store, _ := testutil.NewStore(t)
	gw := &testutil.MockGateway{}
	svc := service.NewMembershipService(store, gw, &testutil.SeqIDs{}, service.Config{})

	require.NoError(t, store.Transactions().Create(context.Background(),
		domain.NewTransaction("TX0000000000000001", domain.TransactionTypeDonation, decimal.NewFromInt(5), "")))

	r := New(store.Transactions(), svc, DefaultConfig())
	assert.Equal(t, 0, r.ReconcileOnce(context.Background()))
	gw.AssertNotCalled(t, "CheckStatus", mock.Anything, mock.Anything)
}

// pendingHandler считает опросы; шлюз всегда отвечает, что платёж ещё ожидается.
type pendingHandler struct {
	polled map[string]int
}

func (h *pendingHandler) HandlePaymentCallback(_ context.Context, transactionID string) (*service.CallbackOutcome, error) {
	h.polled[transactionID]++
	return &service.CallbackOutcome{TransactionID: transactionID, Status: domain.PaymentStatusPending}, nil
}

func TestReconcileOnce_PagesPastPermanentlyPending(t *testing.T) {
	store, db := testutil.NewStore(t)
	ctx := context.Background()

	ids := []string{"TX0000000000000001", "TX0000000000000002", "TX0000000000000003", "TX0000000000000004"}
	for _, id := range ids {
		require.NoError(t, store.Transactions().Create(ctx,
			domain.NewTransaction(id, domain.TransactionTypeDonation, decimal.NewFromInt(5), "")))
	}
	require.NoError(t, db.Exec("UPDATE transactions SET created_at = ?", time.Now().UTC().Add(-time.Hour)).Error)

	h := &pendingHandler{polled: map[string]int{}}
	r := New(store.Transactions(), h, Config{Interval: time.Minute, PendingAfter: 15 * time.Minute, BatchSize: 3})

	// Первый цикл: первые три, второй: оставшаяся, третий: снова с начала
	r.ReconcileOnce(ctx)
	assert.Equal(t, 0, h.polled["TX0000000000000004"])

	r.ReconcileOnce(ctx)
	for _, id := range ids {
		assert.Equal(t, 1, h.polled[id], id)
	}

	r.ReconcileOnce(ctx)
	assert.Equal(t, 2, h.polled["TX0000000000000001"])
	assert.Equal(t, 1, h.polled["TX0000000000000004"])
}

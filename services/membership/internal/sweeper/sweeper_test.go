package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/repository"
	"example.com/membership-system/services/membership/internal/service"
	"example.com/membership-system/services/membership/internal/testutil"
)

var testNow = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

// seedActive создаёт активное членство с заданной датой окончания.
func seedActive(t *testing.T, store repository.Store, memberID string, expiry time.Time) {
	t.Helper()
	ctx := context.Background()

	tx := domain.NewTransaction("TX0000000000"+memberID[3:], domain.TransactionTypeMembershipFees, decimal.NewFromInt(100), memberID)
	require.NoError(t, store.Transactions().Create(ctx, tx))

	start := domain.ExpiryFor(expiry, -36)
	require.NoError(t, store.Memberships().Create(ctx, &domain.Membership{
		MemberID:       memberID,
		Email:          memberID + "@example.com",
		Phone:          "9000000000",
		TransactionID:  tx.TransactionID,
		Type:           "general",
		Fee:            decimal.NewFromInt(100),
		ValidityMonths: 36,
		Status:         domain.MembershipStatusActive,
		StartDate:      &start,
	}))
}

func newService(t *testing.T, store repository.Store, gw *testutil.MockGateway) service.MembershipService {
	t.Helper()
	return service.NewMembershipService(store, gw, &testutil.SeqIDs{}, service.Config{
		CallbackBaseURL: "https://api.example.org/payment/callback",
	}, service.WithClock(func() time.Time { return testNow }))
}

// =============================================================================
// Sweep
// =============================================================================

func TestSweep_ExpiresOnlyPastDue(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()

	seedActive(t, store, "INL000001", testNow.AddDate(0, 0, -1))
	seedActive(t, store, "INL000002", testNow.AddDate(0, 0, 1))

	s := New(store.Memberships(), newService(t, store, &testutil.MockGateway{}), DefaultConfig(), WithClock(func() time.Time { return testNow }))

	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Expired: 1}, report)

	expired, err := store.Memberships().GetByMemberID(ctx, "INL000001")
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipStatusExpired, expired.Status)

	untouched, err := store.Memberships().GetByMemberID(ctx, "INL000002")
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipStatusActive, untouched.Status)

	// Повторный запуск ничего не находит
	report, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestSweep_PagesThroughAllRecords(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		seedActive(t, store, fmt.Sprintf("INL00000%d", i), testNow.AddDate(0, -1, 0))
	}

	cfg := Config{Schedule: "@daily", BatchSize: 3, Concurrency: 2}
	s := New(store.Memberships(), newService(t, store, &testutil.MockGateway{}), cfg, WithClock(func() time.Time { return testNow }))

	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Scanned)
	assert.Equal(t, 7, report.Expired)
}

func TestSweep_AutoRenewOnExpiry(t *testing.T) {
	store, _ := testutil.NewStore(t)
	ctx := context.Background()
	seedActive(t, store, "INL000001", testNow.AddDate(0, 0, -1))

	gw := &testutil.MockGateway{}
	gw.On("Initiate", mock.Anything, mock.Anything).Return("https://pay.example/renewal", nil)

	cfg := DefaultConfig()
	cfg.Policy = AutoRenewOnExpiry
	s := New(store.Memberships(), newService(t, store, gw), cfg, WithClock(func() time.Time { return testNow }))

	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Expired: 1, Renewed: 1}, report)

	m, err := store.Memberships().GetByMemberID(ctx, "INL000001")
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipStatusInactive, m.Status)
	assert.True(t, m.Fee.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 36, m.ValidityMonths)
	gw.AssertNumberOfCalls(t, "Initiate", 1)
}

// flakyLifecycle отказывает на выбранных member_id.
type flakyLifecycle struct {
	mu       sync.Mutex
	failOn   map[string]bool
	expired  []string
	renewErr error
}

func (f *flakyLifecycle) ExpireMembership(_ context.Context, m *domain.Membership) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[m.MemberID] {
		return false, errors.New("db timeout")
	}
	f.expired = append(f.expired, m.MemberID)
	return true, nil
}

func (f *flakyLifecycle) Renew(_ context.Context, req service.RenewRequest) (*service.RenewalResult, error) {
	if f.renewErr != nil {
		return nil, f.renewErr
	}
	return &service.RenewalResult{TransactionID: "TX" + req.MemberID}, nil
}

func TestSweep_FailureIsolation(t *testing.T) {
	store, _ := testutil.NewStore(t)
	for i := 1; i <= 4; i++ {
		seedActive(t, store, fmt.Sprintf("INL00000%d", i), testNow.AddDate(0, 0, -2))
	}

	lc := &flakyLifecycle{failOn: map[string]bool{"INL000002": true}}
	s := New(store.Memberships(), lc, DefaultConfig(), WithClock(func() time.Time { return testNow }))

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 4, Expired: 3, Failed: 1}, report)
	assert.ElementsMatch(t, []string{"INL000001", "INL000003", "INL000004"}, lc.expired)
}

func TestSweep_RenewFailureCounted(t *testing.T) {
	store, _ := testutil.NewStore(t)
	seedActive(t, store, "INL000001", testNow.AddDate(0, 0, -2))

	lc := &flakyLifecycle{renewErr: domain.ErrGatewayTransport}
	cfg := DefaultConfig()
	cfg.Policy = AutoRenewOnExpiry
	s := New(store.Memberships(), lc, cfg, WithClock(func() time.Time { return testNow }))

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Expired: 1, Failed: 1}, report)
}

// staticLister отдаёт заранее заданную страницу, не фильтруя её.
type staticLister []*domain.Membership

func (l staticLister) ListExpiring(context.Context, time.Time, string, int) ([]*domain.Membership, error) {
	return l, nil
}

func TestSweep_SkipsNotYetExpired(t *testing.T) {
	future := testNow.AddDate(0, 0, 1)
	past := testNow.AddDate(0, 0, -1)
	lister := staticLister{
		{MemberID: "INL000001", Status: domain.MembershipStatusActive, ExpiryDate: &past},
		{MemberID: "INL000002", Status: domain.MembershipStatusActive, ExpiryDate: &future},
	}

	lc := &flakyLifecycle{}
	s := New(lister, lc, DefaultConfig(), WithClock(func() time.Time { return testNow }))

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, Expired: 1}, report)
	assert.Equal(t, []string{"INL000001"}, lc.expired)
}

// =============================================================================
// Аренда
// =============================================================================

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLease(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	first := NewRedisLease(rdb, time.Minute)
	second := NewRedisLease(rdb, time.Minute)

	token, ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "аренда занята первым экземпляром")

	// Чужой токен не снимает аренду
	require.NoError(t, second.Release(ctx, "foreign-token"))
	assert.Equal(t, token, rdb.Get(ctx, LeaseKey).Val())

	require.NoError(t, first.Release(ctx, token))
	_, ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSweep_SkipsWhenLeaseHeld(t *testing.T) {
	store, _ := testutil.NewStore(t)
	rdb := setupRedis(t)
	ctx := context.Background()
	seedActive(t, store, "INL000001", testNow.AddDate(0, 0, -1))

	// Другой экземпляр держит аренду
	require.NoError(t, rdb.Set(ctx, LeaseKey, "other-instance", time.Minute).Err())

	lc := &flakyLifecycle{}
	s := New(store.Memberships(), lc, DefaultConfig(), WithLocker(NewRedisLease(rdb, time.Minute)), WithClock(func() time.Time { return testNow }))

	_, err := s.Sweep(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Empty(t, lc.expired)

	// Аренда свободна: запуск проходит и освобождает ключ
	require.NoError(t, rdb.Del(ctx, LeaseKey).Err())
	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Zero(t, rdb.Exists(ctx, LeaseKey).Val())
}

func TestSweep_RejectsConcurrentRun(t *testing.T) {
	s := New(nil, nil, DefaultConfig())
	s.running.Store(true)

	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRun_InvalidSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Schedule = "not a schedule"
	s := New(nil, nil, cfg)

	err := s.Run(context.Background())
	assert.Error(t, err)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "expire_only", ExpireOnly.String())
	assert.Equal(t, "auto_renew_on_expiry", AutoRenewOnExpiry.String())
}

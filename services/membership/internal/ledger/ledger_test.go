package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/membership-system/pkg/idgen"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/repository"
)

// sequenceGen выдаёт заранее заданные ID по кругу.
type sequenceGen struct {
	mu  sync.Mutex
	ids []string
	n   int
}

func (g *sequenceGen) NewTransactionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[g.n%len(g.ids)]
	g.n++
	return id
}

func (g *sequenceGen) NewMemberID() string { return "INL000001" }

func setupStore(t *testing.T) repository.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.AutoMigrate(db))
	return repository.NewStore(db)
}

func TestLedger_Open(t *testing.T) {
	store := setupStore(t)
	l := New(idgen.Random{})

	tx, err := l.Open(context.Background(), store, domain.TransactionTypeMembershipFees, decimal.NewFromInt(100), "INL000001")
	require.NoError(t, err)
	assert.Regexp(t, `^TX\d{16}$`, tx.TransactionID)
	assert.Equal(t, domain.PaymentStatusPending, tx.PaymentStatus)

	found, err := l.Find(context.Background(), store, tx.TransactionID)
	require.NoError(t, err)
	assert.True(t, found.Amount.Equal(decimal.NewFromInt(100)))
}

func TestLedger_Open_RetriesOnConflict(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	gen := &sequenceGen{ids: []string{"TX_TAKEN", "TX_TAKEN", "TX_FREE"}}
	l := New(gen)

	require.NoError(t, store.Transactions().Create(ctx, domain.NewTransaction("TX_TAKEN", domain.TransactionTypeDonation, decimal.NewFromInt(1), "")))

	// Конфликт внутри внешней транзакции не должен её ломать
	var tx *domain.Transaction
	err := store.Atomic(ctx, func(s repository.Store) error {
		var err error
		tx, err = l.Open(ctx, s, domain.TransactionTypeDonation, decimal.NewFromInt(5), "")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "TX_FREE", tx.TransactionID)
	assert.Equal(t, 3, gen.n)
}

func TestLedger_Open_Exhausted(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Transactions().Create(ctx, domain.NewTransaction("TX_TAKEN", domain.TransactionTypeDonation, decimal.NewFromInt(1), "")))

	l := New(&sequenceGen{ids: []string{"TX_TAKEN"}})
	_, err := l.Open(ctx, store, domain.TransactionTypeDonation, decimal.NewFromInt(5), "")

	assert.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)
}

func TestLedger_Open_Validation(t *testing.T) {
	l := New(idgen.Random{})
	_, err := l.Open(context.Background(), setupStore(t), domain.TransactionTypeDonation, decimal.Zero, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_MarkCompletedOnce(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	l := New(idgen.Random{})

	tx, err := l.Open(ctx, store, domain.TransactionTypeMembershipFees, decimal.NewFromInt(100), "INL000001")
	require.NoError(t, err)

	ok, err := l.MarkCompleted(ctx, store, tx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.PaymentStatusCompleted, tx.PaymentStatus)

	stale := *tx
	stale.PaymentStatus = domain.PaymentStatusPending
	ok, err = l.MarkFailed(ctx, store, &stale)
	require.NoError(t, err)
	assert.False(t, ok, "completed -> failed не выполняется")
	assert.Equal(t, domain.PaymentStatusPending, stale.PaymentStatus)

	// Терминальная в памяти транзакция не доходит до БД
	ok, err = l.MarkFailed(ctx, store, tx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.PaymentStatusCompleted, tx.PaymentStatus)

	saved, err := l.Find(ctx, store, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, saved.PaymentStatus)
}

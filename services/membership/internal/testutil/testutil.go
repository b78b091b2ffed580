// Package testutil содержит общие моки и утилиты для тестов сервиса членства.
// ВАЖНО: пакет не должен импортировать service (circular dependency).
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/repository"
)

// =============================================================================
// Хранилище
// =============================================================================

// NewStore поднимает SQLite в памяти со схемой сервиса.
// Одно соединение: каждая :memory: база живёт в своём соединении.
func NewStore(t *testing.T) (repository.Store, *gorm.DB) {
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
	return repository.NewStore(db), db
}

// =============================================================================
// MockGateway — мок платёжного шлюза
// =============================================================================

// MockGateway — мок service.PaymentGateway на testify/mock.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CheckStatus(ctx context.Context, transactionID string) (*gateway.ProviderStatus, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ProviderStatus), args.Error(1)
}

// Paid — ответ шлюза об успешной оплате.
func Paid() *gateway.ProviderStatus {
	return &gateway.ProviderStatus{Success: true, Code: gateway.CodePaymentSuccess, Raw: []byte(`{"success":true}`)}
}

// Declined — ответ шлюза об отказе.
func Declined() *gateway.ProviderStatus {
	return &gateway.ProviderStatus{Success: false, Code: "PAYMENT_ERROR", Raw: []byte(`{"success":false}`)}
}

// =============================================================================
// SeqIDs — предсказуемый генератор идентификаторов
// =============================================================================

// SeqIDs выдаёт TX0000000000000001, TX0000000000000002, ... и INL000001, ...
// Потокобезопасен.
type SeqIDs struct {
	mu     sync.Mutex
	tx     int
	member int
}

func (g *SeqIDs) NewTransactionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tx++
	return fmt.Sprintf("TX%016d", g.tx)
}

func (g *SeqIDs) NewMemberID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.member++
	return fmt.Sprintf("INL%06d", g.member)
}

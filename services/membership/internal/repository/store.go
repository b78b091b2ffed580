package repository

import (
	"context"

	"gorm.io/gorm"

	"example.com/membership-system/pkg/outbox"
)

// Store объединяет репозитории сервиса и даёт атомарное выполнение
// нескольких операций в одной транзакции БД.
type Store interface {
	Transactions() TransactionRepository
	Memberships() MembershipRepository
	Members() MemberRepository
	Donations() DonationRepository
	CallbackLogs() CallbackLogRepository
	Outbox() outbox.Repository

	// Atomic выполняет fn в транзакции. Store, переданный в fn, пишет в эту транзакцию.
	// Ошибка fn откатывает все изменения, включая записи outbox.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db     *gorm.DB
	outbox outbox.Repository
}

// NewStore создаёт Store поверх подключения GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db, outbox: outbox.NewRepository(db)}
}

func (s *gormStore) Transactions() TransactionRepository {
	return &transactionRepository{db: s.db}
}

func (s *gormStore) Memberships() MembershipRepository {
	return &membershipRepository{db: s.db}
}

func (s *gormStore) Members() MemberRepository {
	return &memberRepository{db: s.db}
}

func (s *gormStore) Donations() DonationRepository {
	return &donationRepository{db: s.db}
}

func (s *gormStore) CallbackLogs() CallbackLogRepository {
	return &callbackLogRepository{db: s.db}
}

func (s *gormStore) Outbox() outbox.Repository {
	return s.outbox
}

func (s *gormStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx, outbox: s.outbox.WithTx(tx)})
	})
}

// AutoMigrate создаёт или обновляет схему сервиса, включая таблицу outbox.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TransactionModel{},
		&MembershipModel{},
		&MemberModel{},
		&DonationModel{},
		&CallbackLogModel{},
		&outbox.Row{},
	)
}

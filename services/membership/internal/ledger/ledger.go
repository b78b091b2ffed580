// Package ledger — журнал платёжных транзакций: выдача уникальных ID и
// однократные переходы pending -> completed / failed.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"example.com/membership-system/pkg/idgen"
	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/metrics"
	"example.com/membership-system/services/membership/internal/domain"
	"example.com/membership-system/services/membership/internal/repository"
)

// Ledger открывает и закрывает транзакции. Состояния не хранит,
// все операции выполняются над переданным repository.Store.
type Ledger struct {
	gen idgen.Generator
}

// New создаёт журнал с генератором идентификаторов gen.
func New(gen idgen.Generator) *Ledger {
	return &Ledger{gen: gen}
}

// Open создаёт транзакцию в статусе pending с новым уникальным ID.
// Уникальность обеспечивает первичный ключ БД: при конфликте ID генерируется заново.
// Каждая попытка идёт в своей точке сохранения, чтобы конфликт не ломал внешнюю транзакцию.
func (l *Ledger) Open(ctx context.Context, store repository.Store, txType domain.TransactionType, amount decimal.Decimal, memberID string) (*domain.Transaction, error) {
	draft := domain.NewTransaction("-", txType, amount, memberID)
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	var tx *domain.Transaction
	_, err := idgen.Retry(ctx, l.gen.NewTransactionID, isDuplicateTransaction, func(id string) error {
		tx = domain.NewTransaction(id, txType, amount, memberID)
		return store.Atomic(ctx, func(s repository.Store) error {
			return s.Transactions().Create(ctx, tx)
		})
	})
	if err != nil {
		if errors.Is(err, idgen.ErrExhausted) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTemporarilyUnavailable, err)
		}
		return nil, fmt.Errorf("ошибка создания транзакции: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("transaction_id", tx.TransactionID).
		Str("type", string(txType)).
		Msg("Транзакция открыта")

	return tx, nil
}

// Find возвращает транзакцию или domain.ErrTransactionNotFound.
func (l *Ledger) Find(ctx context.Context, store repository.Store, transactionID string) (*domain.Transaction, error) {
	return store.Transactions().GetByTransactionID(ctx, transactionID)
}

// MarkCompleted переводит транзакцию в completed.
// false — переход уже выполнен ранее, побочные эффекты запускать нельзя.
func (l *Ledger) MarkCompleted(ctx context.Context, store repository.Store, tx *domain.Transaction) (bool, error) {
	return l.finish(ctx, store, tx, domain.PaymentStatusCompleted)
}

// MarkFailed переводит транзакцию в failed. Семантика возврата как у MarkCompleted.
func (l *Ledger) MarkFailed(ctx context.Context, store repository.Store, tx *domain.Transaction) (bool, error) {
	return l.finish(ctx, store, tx, domain.PaymentStatusFailed)
}

func (l *Ledger) finish(ctx context.Context, store repository.Store, tx *domain.Transaction, to domain.PaymentStatus) (bool, error) {
	// Переход проверяется на копии; tx меняется только после условного UPDATE
	next := *tx
	var (
		mark func(ctx context.Context, transactionID string) (bool, error)
		err  error
	)
	switch to {
	case domain.PaymentStatusCompleted:
		mark = store.Transactions().MarkCompleted
		err = next.Complete()
	case domain.PaymentStatusFailed:
		mark = store.Transactions().MarkFailed
		err = next.Fail()
	default:
		return false, domain.ErrInvalidTransition
	}
	if err != nil {
		// Уже терминальная: повторный переход — no-op
		return false, nil
	}

	transitioned, err := mark(ctx, tx.TransactionID)
	if err != nil {
		return false, err
	}
	if !transitioned {
		return false, nil
	}

	*tx = next
	metrics.LedgerTransitionsTotal.WithLabelValues(string(tx.Type), string(to)).Inc()
	return true, nil
}

func isDuplicateTransaction(err error) bool {
	return errors.Is(err, domain.ErrDuplicateTransactionID)
}

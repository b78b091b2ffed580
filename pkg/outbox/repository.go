package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound — запись outbox не найдена.
var ErrNotFound = errors.New("запись outbox не найдена")

// purgeBatch ограничивает одно удаление, чтобы не держать длинную блокировку.
const purgeBatch = 1000

// Repository — хранилище записей outbox.
type Repository interface {
	// WithTx возвращает репозиторий поверх транзакции tx: запись о событии
	// фиксируется вместе со сменой состояния или не фиксируется вовсе.
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, rec *Record) error

	// Due возвращает неопубликованные живые записи с next_attempt_at <= now,
	// самые давние первыми. Все времена хранятся в UTC.
	Due(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	MarkPublished(ctx context.Context, id string, at time.Time) error

	// Reschedule фиксирует неудачную попытку и переносит следующую на next.
	Reschedule(ctx context.Context, id string, cause error, next time.Time) error

	// MarkDead фиксирует последнюю неудачную попытку и выводит запись из очереди.
	MarkDead(ctx context.Context, id string, cause error, at time.Time) error

	// PurgePublished удаляет до purgeBatch опубликованных записей старше before.
	PurgePublished(ctx context.Context, before time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository создаёт GORM репозиторий outbox.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) Create(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).Create(rowFromRecord(rec)).Error
}

func (r *gormRepository) Due(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	var rows []Row
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL AND dead_at IS NULL AND next_attempt_at <= ?", now.UTC()).
		Order("next_attempt_at ASC, created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*Record, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

func (r *gormRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]any{"published_at": at.UTC()})
}

func (r *gormRepository) Reschedule(ctx context.Context, id string, cause error, next time.Time) error {
	return r.update(ctx, id, map[string]any{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      cause.Error(),
		"next_attempt_at": next.UTC(),
	})
}

func (r *gormRepository) MarkDead(ctx context.Context, id string, cause error, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": cause.Error(),
		"dead_at":    at.UTC(),
	})
}

// update меняет только неопубликованную запись: повторная пометка
// уже опубликованного события считается отсутствием записи.
func (r *gormRepository) update(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&Row{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepository) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&Row{}).
		Where("published_at IS NOT NULL AND published_at < ?", before.UTC()).
		Limit(purgeBatch).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Row{})
	return res.RowsAffected, res.Error
}

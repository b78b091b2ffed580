package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	mysqlDuplicateEntry   = 1062
	pgUniqueViolation     = "23505"
	sqliteUniqueViolation = "UNIQUE constraint failed"
)

// isDuplicateKeyError распознаёт нарушение уникального ключа во всех
// поддерживаемых драйверах. Текстовые проверки нужны для ошибок, которые
// пришли без типа драйвера (sqlmock, обёртки).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "1062") ||
		strings.Contains(msg, pgUniqueViolation) ||
		strings.Contains(msg, sqliteUniqueViolation)
}

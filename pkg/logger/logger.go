// Package logger — структурированное логирование на базе zerolog.
// В production пишется JSON, локально можно включить консольный вывод (Pretty).
// Поля трассировки добавляются из context.Context, см. FromContext.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log — логгер процесса. До вызова Init пишет JSON в stdout с уровнем info.
var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Config — параметры Init.
type Config struct {
	Level   string    // trace, debug, info, warn, error; неизвестное значение = info
	Pretty  bool      // цветной вывод для локальной разработки
	Output  io.Writer // по умолчанию os.Stdout
	Service string    // поле "service" в каждой записи
}

// Init настраивает логгер процесса. Вызывается один раз при старте сервиса.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	zc := zerolog.New(out).Level(level).With().Timestamp().Caller()
	if cfg.Service != "" {
		zc = zc.Str("service", cfg.Service)
	}
	log = zc.Logger()
}

func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Info, Warn и Error пишут в логгер процесса без полей запроса.
// В обработчиках используйте FromContext(ctx).
func Info() *zerolog.Event { return log.Info() }

func Warn() *zerolog.Event { return log.Warn() }

func Error() *zerolog.Event { return log.Error() }

// With начинает дочерний логгер:
//
//	sweepLog := logger.With().Str("component", "sweeper").Logger()
func With() zerolog.Context { return log.With() }

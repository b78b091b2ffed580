package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/membership-system/pkg/logger"
)

// ReadinessChecker возвращает nil, когда сервис готов принимать трафик.
type ReadinessChecker func(ctx context.Context) error

// Server отдаёт /metrics и пробы Kubernetes на отдельном порту.
type Server struct {
	srv     *http.Server
	service string
	ready   ReadinessChecker
}

// Option настраивает Server.
type Option func(*Server)

// WithReadinessCheck подключает проверку зависимостей к /readyz.
func WithReadinessCheck(check ReadinessChecker) Option {
	return func(s *Server) { s.ready = check }
}

// NewServer создаёт сервер на addr, например ":9090".
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, "alive")
	})
	mux.HandleFunc("GET /readyz", s.readyz)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			logger.Warn().Err(err).Str("service", s.service).Msg("Сервис не готов")
			writeProbe(w, http.StatusServiceUnavailable, "not_ready")
			return
		}
	}
	writeProbe(w, http.StatusOK, "ready")
}

func writeProbe(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// Start блокируется до Shutdown. Штатная остановка не считается ошибкой.
func (s *Server) Start() error {
	logger.Info().Str("addr", s.srv.Addr).Msg("Запуск сервера метрик")
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

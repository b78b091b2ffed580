// Membership Service — приём членских взносов и пожертвований через PhonePe.
// HTTP API инициирует платежи и принимает callback шлюза, события жизненного
// цикла пишутся в outbox и доставляются письмами через Kafka или напрямую.
// Фоном работают ежедневная проверка истёкших членств и сверка зависших платежей.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"example.com/membership-system/pkg/config"
	dbpkg "example.com/membership-system/pkg/db"
	"example.com/membership-system/pkg/healthcheck"
	"example.com/membership-system/pkg/idgen"
	"example.com/membership-system/pkg/jwt"
	"example.com/membership-system/pkg/kafka"
	"example.com/membership-system/pkg/logger"
	"example.com/membership-system/pkg/metrics"
	"example.com/membership-system/pkg/outbox"
	"example.com/membership-system/pkg/tracing"
	"example.com/membership-system/services/membership/internal/gateway"
	"example.com/membership-system/services/membership/internal/handler"
	"example.com/membership-system/services/membership/internal/middleware"
	"example.com/membership-system/services/membership/internal/notification"
	"example.com/membership-system/services/membership/internal/reconciler"
	"example.com/membership-system/services/membership/internal/repository"
	"example.com/membership-system/services/membership/internal/service"
	"example.com/membership-system/services/membership/internal/sweeper"
)

const serviceName = "membership-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: serviceName,
	})
	log := logger.With().Logger()

	// Секреты шлюза не логируются, только признак их наличия
	log.Info().
		Str("env", cfg.App.Env).
		Str("http_addr", cfg.HTTP.Addr()).
		Str("db_driver", cfg.Database.Driver).
		Str("phonepe_host", cfg.PhonePe.HostURL).
		Bool("kafka", len(cfg.Kafka.Brokers) > 0).
		Msg("Запуск Membership Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Environment:    cfg.App.Env,
		SampleRatio:    cfg.Jaeger.SampleRatio,
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.Connect(cfg, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к БД")
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("Подключение к БД установлено")

	if cfg.Database.AutoMigrate {
		if err := repository.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("Ошибка миграции схемы")
		}
	}

	rdb, err := dbpkg.ConnectRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	log.Info().Msg("Подключение к Redis установлено")

	readinessCheck := healthcheck.All(healthcheck.Database(db), healthcheck.Redis(rdb))

	// === Бизнес-логика ===

	store := repository.NewStore(db)

	gw := gateway.NewPhonePeClient(gateway.Config{
		MerchantID: cfg.PhonePe.MerchantID,
		SaltKey:    cfg.PhonePe.SaltKey,
		SaltIndex:  cfg.PhonePe.SaltIndex,
		HostURL:    cfg.PhonePe.HostURL,
		PayPath:    cfg.PhonePe.PayPath,
		StatusPath: cfg.PhonePe.StatusPath,
		Timeout:    cfg.PhonePe.Timeout,
	})

	svc := service.NewMembershipService(store, gw, idgen.Random{}, service.Config{
		CallbackBaseURL:         cfg.Redirect.CallbackBaseURL,
		DonationCallbackBaseURL: cfg.Redirect.DonationCallbackBaseURL,
	})

	notifier, err := newNotificationHandler(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации уведомлений")
	}

	var sw *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		policy := sweeper.ExpireOnly
		if cfg.Sweeper.AutoRenewOnExpiry {
			policy = sweeper.AutoRenewOnExpiry
		}
		sw = sweeper.New(store.Memberships(), svc, sweeper.Config{
			Schedule:    cfg.Sweeper.Schedule,
			Policy:      policy,
			BatchSize:   cfg.Sweeper.BatchSize,
			Concurrency: cfg.Sweeper.Concurrency,
		}, sweeper.WithLocker(sweeper.NewRedisLease(rdb, cfg.Sweeper.LeaseTTL)))
	}

	adminAuth, err := newAdminAuth(cfg.JWT)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка загрузки ключа JWT")
	}

	routerCfg := handler.RouterConfig{
		Service:   svc,
		Redirects: handler.RedirectURLs{Success: cfg.Redirect.SuccessURL, Failure: cfg.Redirect.FailureURL, Pending: cfg.Redirect.PendingURL},
		AdminAuth: adminAuth,
		RateLimit: middleware.NewRateLimiter(middleware.RateLimitConfig{
			Redis:  rdb,
			Limit:  cfg.HTTP.RateLimit,
			Window: cfg.HTTP.RateLimitWindow,
			Prefix: "rate:payment",
		}),
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		ReadinessCheck: readinessCheck,
		ServiceName:    serviceName,
		Debug:          cfg.IsDevelopment(),
	}
	// Типизированный nil в интерфейсе SweepRunner сломал бы проверку в AdminHandler
	if sw != nil {
		routerCfg.Sweeper = sw
	}
	router := handler.NewRouter(routerCfg)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router.Engine(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName, metrics.WithReadinessCheck(readinessCheck))
	}

	// === Запуск ===

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	// Доставка событий outbox: через Kafka или напрямую в обработчик уведомлений
	outboxRepo := store.Outbox()
	var (
		publisher     outbox.Publisher = notification.NewDirectPublisher(notifier)
		kafkaProducer *kafka.Producer
		consumer      *notification.Consumer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := kafka.Config{Brokers: cfg.Kafka.Brokers, ConsumerGroup: cfg.Kafka.ConsumerGroup}

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics(), kafkaCfg.Partitions); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err = kafka.NewProducer(kafkaCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}
		publisher = kafkaProducer

		consumer, err = notification.NewConsumer(notification.ConsumerConfig{
			Kafka: kafkaCfg,
			Retry: kafka.DefaultRetryPolicy(),
		}, notifier, kafkaProducer)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}
		g.Go(func() error { return consumer.Run(gctx) })
	} else {
		log.Warn().Msg("Kafka не настроена — уведомления доставляются напрямую из outbox")
	}

	outboxWorker := outbox.NewWorker(outboxRepo, publisher, outbox.DefaultConfig())
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})

	if sw != nil {
		g.Go(func() error { return sw.Run(gctx) })
	}

	if cfg.Reconciler.Enabled {
		rec := reconciler.New(store.Transactions(), svc, reconciler.Config{
			Interval:     cfg.Reconciler.Interval,
			PendingAfter: cfg.Reconciler.PendingAfter,
			BatchSize:    cfg.Reconciler.BatchSize,
		})
		g.Go(func() error {
			rec.Run(gctx)
			return nil
		})
	}

	// Остановка HTTP серверов по сигналу или по ошибке любого компонента
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Компонент сервиса завершился с ошибкой")
	}

	// === Освобождение ресурсов ===

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()

	// События, записанные последними запросами, отправляем до закрытия producer
	outboxWorker.Flush(drainCtx)

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Consumer уведомлений")
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	closeDB(db)
	closeRedis(rdb)

	if shutdownTracing != nil {
		if err := shutdownTracing(drainCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Membership Service остановлен")
}

// newNotificationHandler выбирает отправку писем: SMTP, если задан хост,
// иначе только запись в лог.
func newNotificationHandler(cfg *config.Config) (*notification.Handler, error) {
	renderer, err := notification.NewRenderer(notification.Footer{
		Organization: cfg.SMTP.OrgName,
		Address:      cfg.SMTP.OrgAddress,
		Phone:        cfg.SMTP.OrgPhone,
		Email:        cfg.SMTP.OrgEmail,
	})
	if err != nil {
		return nil, err
	}

	if cfg.SMTP.Host == "" {
		logger.Warn().Msg("SMTP не настроен — письма только логируются")
		return notification.NewHandler(renderer, notification.LogDispatcher{}), nil
	}

	dispatcher, err := notification.NewSMTPDispatcher(notification.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		TLS:      cfg.SMTP.TLS,
	})
	if err != nil {
		return nil, err
	}
	return notification.NewHandler(renderer, dispatcher), nil
}

// newAdminAuth возвращает nil без публичного ключа: админские маршруты
// тогда не регистрируются.
func newAdminAuth(cfg config.JWTConfig) (*middleware.AdminAuth, error) {
	if cfg.PublicKeyPath == "" {
		logger.Warn().Msg("JWT_PUBLIC_KEY_PATH не задан — админские маршруты отключены")
		return nil, nil
	}
	verifier, err := jwt.NewVerifier(jwt.Config{PublicKeyPath: cfg.PublicKeyPath, Issuer: cfg.Issuer})
	if err != nil {
		return nil, err
	}
	return middleware.NewAdminAuth(verifier, cfg.AdminRole), nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка закрытия БД")
	}
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка закрытия Redis")
	}
}

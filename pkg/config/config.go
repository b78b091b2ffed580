// Package config предоставляет загрузку конфигурации из переменных окружения.
// Секреты (ключи платёжного шлюза, пароли) приходят только из окружения
// и не имеют значений по умолчанию.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию приложения.
type Config struct {
	App        AppConfig
	HTTP       HTTPConfig
	Database   DatabaseConfig
	MySQL      MySQLConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	JWT        JWTConfig
	Jaeger     JaegerConfig
	Metrics    MetricsConfig
	PhonePe    PhonePeConfig
	Redirect   RedirectConfig
	SMTP       SMTPConfig
	Sweeper    SweeperConfig
	Reconciler ReconcilerConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"membership-system"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig содержит настройки HTTP сервера API.
type HTTPConfig struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	RateLimit       int           `env:"HTTP_RATE_LIMIT" envDefault:"100"`
	RateLimitWindow time.Duration `env:"HTTP_RATE_LIMIT_WINDOW" envDefault:"1m"`
	CORSOrigins     []string      `env:"HTTP_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig выбирает драйвер хранилища.
type DatabaseConfig struct {
	Driver      string `env:"DB_DRIVER" envDefault:"mysql"` // mysql | postgres
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"membership"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// PostgresConfig содержит настройки подключения к PostgreSQL.
type PostgresConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"postgres"`
	Password        string        `env:"POSTGRES_PASSWORD"`
	Database        string        `env:"POSTGRES_DATABASE" envDefault:"membership"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к PostgreSQL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host        string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port        int           `env:"REDIS_PORT" envDefault:"6379"`
	Password    string        `env:"REDIS_PASSWORD" envDefault:""`
	DB          int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize    int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"3s"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
// Пустой список брокеров отключает Kafka: уведомления доставляются напрямую.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"membership-notifications"`
}

// JWTConfig содержит настройки проверки JWT токенов (RS256) для админских маршрутов.
// Сервис только валидирует токены, поэтому нужен лишь публичный ключ.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"membership-system"`
	AdminRole     string `env:"JWT_ADMIN_ROLE" envDefault:"admin"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled     bool    `env:"JAEGER_ENABLED" envDefault:"false"`
	Host        string  `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort    int     `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
	SampleRatio float64 `env:"JAEGER_SAMPLE_RATIO" envDefault:"1"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PhonePeConfig содержит параметры платёжного шлюза.
// MerchantID, SaltKey и SaltIndex обязательны и никогда не логируются.
type PhonePeConfig struct {
	MerchantID string        `env:"PHONEPE_MERCHANT_ID,required,notEmpty"`
	SaltKey    string        `env:"PHONEPE_SALT_KEY,required,notEmpty"`
	SaltIndex  int           `env:"PHONEPE_SALT_INDEX,required,notEmpty"`
	HostURL    string        `env:"PHONEPE_HOST_URL,required,notEmpty"`
	PayPath    string        `env:"PHONEPE_PAY_PATH" envDefault:"/pg/v1/pay"`
	StatusPath string        `env:"PHONEPE_STATUS_PATH" envDefault:"/pg/v1/status"`
	Timeout    time.Duration `env:"PHONEPE_TIMEOUT" envDefault:"15s"`
}

// RedirectConfig содержит адреса, куда отправляется браузер плательщика.
type RedirectConfig struct {
	// CallbackBaseURL — публичный адрес этого сервиса, к нему шлюз добавляет /<transactionId>.
	CallbackBaseURL         string `env:"REDIRECT_CALLBACK_BASE_URL,required,notEmpty"`
	DonationCallbackBaseURL string `env:"REDIRECT_DONATION_CALLBACK_BASE_URL"`
	SuccessURL              string `env:"REDIRECT_SUCCESS_URL,required,notEmpty"`
	FailureURL              string `env:"REDIRECT_FAILURE_URL,required,notEmpty"`
	PendingURL              string `env:"REDIRECT_PENDING_URL"`
}

// SMTPConfig содержит настройки почтового сервера.
// Пустой Host включает LogDispatcher вместо реальной отправки.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" envDefault:"no-reply@example.com"`
	TLS      bool   `env:"SMTP_TLS" envDefault:"true"`

	// Реквизиты организации для подвала писем. Пустое имя — письма без подвала.
	OrgName    string `env:"NOTIFY_ORG_NAME"`
	OrgAddress string `env:"NOTIFY_ORG_ADDRESS"`
	OrgPhone   string `env:"NOTIFY_ORG_PHONE"`
	OrgEmail   string `env:"NOTIFY_ORG_EMAIL"`
}

// SweeperConfig содержит настройки ежедневной проверки истёкших членств.
type SweeperConfig struct {
	Enabled           bool          `env:"SWEEPER_ENABLED" envDefault:"true"`
	Schedule          string        `env:"SWEEPER_SCHEDULE" envDefault:"0 2 * * *"`
	AutoRenewOnExpiry bool          `env:"SWEEPER_AUTO_RENEW_ON_EXPIRY" envDefault:"false"`
	BatchSize         int           `env:"SWEEPER_BATCH_SIZE" envDefault:"100"`
	Concurrency       int           `env:"SWEEPER_CONCURRENCY" envDefault:"4"`
	LeaseTTL          time.Duration `env:"SWEEPER_LEASE_TTL" envDefault:"30m"`
}

// ReconcilerConfig содержит настройки опроса зависших платежей.
type ReconcilerConfig struct {
	Enabled      bool          `env:"RECONCILER_ENABLED" envDefault:"true"`
	Interval     time.Duration `env:"RECONCILER_INTERVAL" envDefault:"5m"`
	PendingAfter time.Duration `env:"RECONCILER_PENDING_AFTER" envDefault:"15m"`
	BatchSize    int           `env:"RECONCILER_BATCH_SIZE" envDefault:"50"`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет связанные между собой значения.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("неизвестный драйвер БД: %q", c.Database.Driver)
	}
	if c.PhonePe.SaltIndex <= 0 {
		return fmt.Errorf("PHONEPE_SALT_INDEX должен быть положительным")
	}
	if c.Sweeper.Concurrency <= 0 {
		c.Sweeper.Concurrency = 1
	}
	if c.Redirect.PendingURL == "" {
		c.Redirect.PendingURL = c.Redirect.FailureURL
	}
	if c.Redirect.DonationCallbackBaseURL == "" {
		c.Redirect.DonationCallbackBaseURL = c.Redirect.CallbackBaseURL
	}
	return nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

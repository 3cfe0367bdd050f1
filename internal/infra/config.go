package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации шлюза и консоли.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub, стрим аудита, локи).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// PipelineConfig — настройки ядра авторизации действий.
type PipelineConfig struct {
	// Trailing window лимитера: N запросов на (identity, action_type) в окне
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`

	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
	ConfirmationTTL time.Duration `mapstructure:"confirmation_ttl"`

	AnomalyWindow    time.Duration `mapstructure:"anomaly_window"`
	AnomalyThreshold int           `mapstructure:"anomaly_threshold"`

	// Период фоновой уборки истекших ключей и токенов
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Настройки Circuit Breaker для внешнего GitHub-коннектора
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	// Outbound-лимит на сам коннектор (не путать с доменным лимитером)
	ExecutorRPS   float64 `mapstructure:"executor_rps"`
	ExecutorBurst int     `mapstructure:"executor_burst"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Поддержка ENV (REPOOPS_SERVER_PORT=8080 перекроет yaml)
	v.SetEnvPrefix("REPOOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Дефолты — чтобы сервис поднимался и без файла
	setDefaults(v)

	// 4. Чтение файла (отсутствие файла не фатально, есть ENV и дефолты)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: failed to read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := cfg.loadKeys(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("pipeline.rate_limit_window", "1h")
	v.SetDefault("pipeline.rate_limit_max", 30)
	v.SetDefault("pipeline.idempotency_ttl", "24h")
	v.SetDefault("pipeline.confirmation_ttl", "10m")
	v.SetDefault("pipeline.anomaly_window", "5m")
	v.SetDefault("pipeline.anomaly_threshold", 5)
	v.SetDefault("pipeline.sweep_interval", "1m")
	v.SetDefault("pipeline.cb_max_requests", 3)
	v.SetDefault("pipeline.cb_interval", "5s")
	v.SetDefault("pipeline.cb_timeout", "30s")
	v.SetDefault("pipeline.executor_rps", 50)
	v.SetDefault("pipeline.executor_burst", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeys читает PEM-файлы с диска (пути могут быть не заданы — тогда
// соответствующая сторона просто не сможет подписывать/проверять токены).
func (c *Config) loadKeys() error {
	if c.Auth.PublicKeyPath != "" {
		data, err := os.ReadFile(c.Auth.PublicKeyPath)
		if err != nil {
			return fmt.Errorf("config: failed to read public key: %w", err)
		}
		c.Auth.PublicKey = data
	}
	if c.Auth.PrivateKeyPath != "" {
		data, err := os.ReadFile(c.Auth.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("config: failed to read private key: %w", err)
		}
		c.Auth.PrivateKey = data
	}
	return nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database.url is required (or REPOOPS_DATABASE_URL)")
	}
	if c.Pipeline.RateLimitMax <= 0 {
		return errors.New("config: pipeline.rate_limit_max must be positive")
	}
	if c.Pipeline.AnomalyThreshold <= 0 {
		return errors.New("config: pipeline.anomaly_threshold must be positive")
	}
	return nil
}

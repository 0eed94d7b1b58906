package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Lock     LockConfig     `yaml:"lock"`
	Market   MarketConfig   `yaml:"market"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // mysql | sqlite
	URL          string `yaml:"-"`      // DATABASE_URL
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

type LockConfig struct {
	Backend       string `yaml:"backend"` // redis | local
	Mode          string `yaml:"mode"`    // strict | degraded
	Namespace     string `yaml:"namespace"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"` // REDIS_PASSWORD
	RedisDB       int    `yaml:"redis_db"`
	HoldTimeout   string `yaml:"hold_timeout"`
	WaitTimeout   string `yaml:"wait_timeout"`
	RetryInterval string `yaml:"retry_interval"`

	ParsedHold  time.Duration `yaml:"-"`
	ParsedWait  time.Duration `yaml:"-"`
	ParsedRetry time.Duration `yaml:"-"`
}

type MarketConfig struct {
	CommissionRate    string `yaml:"commission_rate"` // fraction, e.g. "0.01"
	PlatformAccountID int64  `yaml:"platform_account_id"`

	ParsedCommissionRate decimal.Decimal `yaml:"-"`
}

type MatcherConfig struct {
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
	Timeout   string `yaml:"timeout"`

	ParsedTimeout time.Duration `yaml:"-"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text | json
	OutputFile string `yaml:"output_file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a configuration suitable for a single embedded instance.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", URL: "market.db", MaxOpenConns: 1, AutoMigrate: true},
		Lock: LockConfig{
			Backend:       "local",
			Mode:          "strict",
			Namespace:     "lock:",
			HoldTimeout:   "10s",
			WaitTimeout:   "5s",
			RetryInterval: "50ms",
		},
		Market:  MarketConfig{CommissionRate: "0.01"},
		Matcher: MatcherConfig{Workers: 4, QueueSize: 256, Timeout: "15s"},
		Kafka:   KafkaConfig{Topic: "buy-order-events"},
		Log:     LogConfig{Level: "info", Format: "text", MaxSize: 100, MaxBackups: 5, MaxAge: 30},
	}
}

func Load(filename string) (*Config, error) {
	// .env beside the config file; missing is fine
	envPath := filepath.Join(filepath.Dir(filename), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env file")
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer file.Close()

	config := Default()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, errors.Wrap(err, "failed to decode config file")
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.URL = url
	}
	config.Lock.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Lock.RedisAddr = addr
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every section and fills the parsed fields.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql":
		if _, err := mysql.ParseDSN(c.Database.URL); err != nil {
			return errors.Wrap(err, "invalid mysql DATABASE_URL")
		}
	case "sqlite":
		if c.Database.URL == "" {
			return fmt.Errorf("sqlite database path is empty")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 1
	}

	switch c.Lock.Backend {
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock backend redis requires redis_addr")
		}
	case "local":
	default:
		return fmt.Errorf("unsupported lock backend %q", c.Lock.Backend)
	}
	c.Lock.Mode = strings.ToLower(c.Lock.Mode)
	if c.Lock.Mode != "strict" && c.Lock.Mode != "degraded" {
		return fmt.Errorf("lock mode must be strict or degraded, got %q", c.Lock.Mode)
	}

	var err error
	if c.Lock.ParsedHold, err = parseDuration("lock.hold_timeout", c.Lock.HoldTimeout); err != nil {
		return err
	}
	if c.Lock.ParsedHold <= 0 {
		return fmt.Errorf("lock.hold_timeout must be positive")
	}
	if c.Lock.ParsedWait, err = parseDuration("lock.wait_timeout", c.Lock.WaitTimeout); err != nil {
		return err
	}
	if c.Lock.ParsedRetry, err = parseDuration("lock.retry_interval", c.Lock.RetryInterval); err != nil {
		return err
	}

	rate, err := decimal.NewFromString(c.Market.CommissionRate)
	if err != nil {
		return errors.Wrap(err, "failed to parse market.commission_rate")
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("market.commission_rate must be in [0, 1), got %s", rate)
	}
	c.Market.ParsedCommissionRate = rate

	if c.Matcher.Workers <= 0 {
		return fmt.Errorf("matcher.workers must be positive")
	}
	if c.Matcher.QueueSize < 0 {
		return fmt.Errorf("matcher.queue_size must not be negative")
	}
	if c.Matcher.ParsedTimeout, err = parseDuration("matcher.timeout", c.Matcher.Timeout); err != nil {
		return err
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka requires brokers and topic when enabled")
	}
	return nil
}

// parseDuration treats an empty value as zero.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse %s", field)
	}
	return d, nil
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	Environment string `yaml:"environment" default:"development"`

	Server struct {
		Port            int           `yaml:"port" default:"8888"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Mongo struct {
		Host        string        `yaml:"host" default:"localhost"`
		Port        int           `yaml:"port" default:"27017"`
		Database    string        `yaml:"database" default:"binance_data"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		OpTimeout   time.Duration `yaml:"op_timeout" default:"30s"`
	} `yaml:"mongo"`

	Binance struct {
		BaseURL      string        `yaml:"base_url" default:"https://api.binance.com"`
		Interval     string        `yaml:"interval" default:"1m"`
		RequestLimit int           `yaml:"request_limit" default:"1000" validate:"gt=0,lte=1000"`
		MaxRetries   int           `yaml:"max_retries" default:"3" validate:"gte=0"`
		RetryBase    time.Duration `yaml:"retry_base" default:"1s"`
		RetryCap     time.Duration `yaml:"retry_cap" default:"30s"`
		BatchPause   time.Duration `yaml:"batch_pause" default:"100ms"`
		HTTPTimeout  time.Duration `yaml:"http_timeout" default:"30s"`
	} `yaml:"binance"`

	Ingestor struct {
		Interval      time.Duration `yaml:"interval" default:"60s"`
		Symbols       []string      `yaml:"symbols"`
		BootstrapDate string        `yaml:"bootstrap_date" default:"2025-06-01"`
		Workers       int           `yaml:"workers" default:"2" validate:"gt=0"`
	} `yaml:"ingestor"`

	Predictor struct {
		Enabled   bool          `yaml:"enabled" default:"true"`
		Interval  time.Duration `yaml:"interval" default:"5s"`
		ModelsDir string        `yaml:"models_dir" default:"models"`
		Symbols   []string      `yaml:"symbols"`
	} `yaml:"predictor"`

	Bus struct {
		Backend string `yaml:"backend" default:"inproc" validate:"oneof=inproc redis kafka"`
		Buffer  int    `yaml:"buffer" default:"256" validate:"gt=0"`
		Redis   struct {
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Channel  string `yaml:"channel" default:"klinecast:sync"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic" default:"klinecast.sync"`
			GroupID      string        `yaml:"group_id" default:"klinecast-api"`
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			Compression  string        `yaml:"compression" default:"gzip"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"kafka"`
	} `yaml:"bus"`

	WS struct {
		QueueSize int `yaml:"queue_size" default:"64" validate:"gt=0"`
	} `yaml:"ws"`
}

// BootstrapMillis parses the configured bootstrap date as UTC midnight in
// milliseconds since epoch.
func (c *Config) BootstrapMillis() (int64, error) {
	t, err := time.Parse("2006-01-02", c.Ingestor.BootstrapDate)
	if err != nil {
		return 0, fmt.Errorf("parse bootstrap_date: %w", err)
	}
	return t.UTC().UnixMilli(), nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("MONGODB_HOST"); v != "" {
		c.Mongo.Host = v
	}
	if v := os.Getenv("MONGODB_DATABASE"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("MONGODB_USERNAME"); v != "" {
		c.Mongo.User = v
	}
	if v := os.Getenv("MONGODB_PASSWORD"); v != "" {
		c.Mongo.Password = v
	}
	if v := os.Getenv("SYMBOLS_TO_SYNC"); v != "" {
		c.Ingestor.Symbols = splitSymbols(v)
	}
	if v := os.Getenv("SYMBOLS_TO_PREDICT"); v != "" {
		c.Predictor.Symbols = splitSymbols(v)
	}
	if v := os.Getenv("MODELS_DIR"); v != "" {
		c.Predictor.ModelsDir = v
	}
	if v := os.Getenv("BUS_BACKEND"); v != "" {
		c.Bus.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Bus.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Bus.Kafka.Brokers = strings.Split(v, ",")
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Bus.Backend == "kafka" && len(c.Bus.Kafka.Brokers) == 0 {
		return fmt.Errorf("bus.kafka.brokers required for kafka backend")
	}
	if _, err := c.BootstrapMillis(); err != nil {
		return err
	}
	if c.Binance.RetryBase <= 0 || c.Binance.RetryCap < c.Binance.RetryBase {
		return fmt.Errorf("binance retry delays must satisfy 0 < retry_base <= retry_cap")
	}
	return nil
}

func splitSymbols(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const service = "matching"

type Config struct {
	Log      Log      `mapstructure:"log"`
	HTTP     HTTP     `mapstructure:"http"`
	GRPC     GRPC     `mapstructure:"grpc"`
	Markets  []string `mapstructure:"markets"`
	Postgres Postgres `mapstructure:"postgres"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Outbox   Outbox   `mapstructure:"outbox"`
	Book     Book     `mapstructure:"book"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type HTTP struct {
	Addr           string  `mapstructure:"addr"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type GRPC struct {
	Addr string `mapstructure:"addr"`
}

type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Outbox struct {
	Dir          string        `mapstructure:"dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Batch        int           `mapstructure:"batch"`
}

type Book struct {
	Depth int `mapstructure:"depth"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_limit_rps", 10)
	v.SetDefault("http.rate_limit_burst", 20)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("markets", []string{"BTC/USD"})
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "matching.trades")
	v.SetDefault("outbox.dir", "data/outbox")
	v.SetDefault("outbox.poll_interval", 250*time.Millisecond)
	v.SetDefault("outbox.batch", 256)
	v.SetDefault("book.depth", 50)
}

// Load reads path, or config/matching.yaml when path is empty. A missing file
// is not an error: defaults and MATCHING_* environment variables still apply.
// Variables from a .env file in the working directory are loaded first.
func Load(path string) (*Config, *viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(service)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// MATCHING_HTTP_ADDR overrides http.addr
	v.SetEnvPrefix(strings.ToUpper(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, v, nil
}

// Watch calls onChange with the re-decoded config each time the file changes.
// Decode errors are handed to onError and the previous config stays in force.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			if onError != nil {
				onError(fmt.Errorf("config: reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

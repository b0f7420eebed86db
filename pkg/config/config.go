package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"OTCFeed/internal/domain/models"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SendBuffer      int           `yaml:"send_buffer"`
		PingInterval    time.Duration `yaml:"ping_interval"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Redis struct {
		Enabled    bool          `yaml:"enabled"`
		Host       string        `yaml:"host"`
		Port       int           `yaml:"port"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		Prefix     string        `yaml:"prefix"`
		HistoryLen int           `yaml:"history_len"`
		TTL        time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		LogsTopic    string   `yaml:"logs_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"clickhouse"`
	Upstream struct {
		Cooldown       time.Duration `yaml:"cooldown"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		NoDataTimeout  time.Duration `yaml:"no_data_timeout"`
		StockProvider  string        `yaml:"stock_provider"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		Binance        struct {
			WebSocketURL string `yaml:"websocket_url"`
			RestURL      string `yaml:"rest_url"`
		} `yaml:"binance"`
		TwelveData struct {
			APIKey       string `yaml:"api_key"`
			WebSocketURL string `yaml:"websocket_url"`
			RestURL      string `yaml:"rest_url"`
		} `yaml:"twelvedata"`
		Finnhub struct {
			APIKey       string `yaml:"api_key"`
			WebSocketURL string `yaml:"websocket_url"`
		} `yaml:"finnhub"`
	} `yaml:"upstream"`
	OTC struct {
		StatusCheckInterval time.Duration                               `yaml:"status_check_interval"`
		Categories          map[models.Category]models.InstrumentConfig `yaml:"categories"`
	} `yaml:"otc"`
	MarketHours struct {
		HolidayCalendar string `yaml:"holiday_calendar"`
	} `yaml:"market_hours"`
	Pipeline struct {
		MaxRPS     int           `yaml:"max_rps"`
		MaxTickAge time.Duration `yaml:"max_tick_age"`
	} `yaml:"pipeline"`
	Instruments []models.Instrument `yaml:"instruments"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
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
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("TWELVEDATA_API_KEY"); v != "" {
		c.Upstream.TwelveData.APIKey = v
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Upstream.Finnhub.APIKey = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
		c.Redis.Enabled = true
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = 256
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.HistoryLen == 0 {
		c.Redis.HistoryLen = 1000
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "otcfeed.ticks"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "otcfeed-archive"
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "otcfeed"
	}
	if c.ClickHouse.BatchSize == 0 {
		c.ClickHouse.BatchSize = 500
	}
	if c.ClickHouse.BatchTimeout == 0 {
		c.ClickHouse.BatchTimeout = 2 * time.Second
	}
	if c.Upstream.Cooldown == 0 {
		c.Upstream.Cooldown = 60 * time.Second
	}
	if c.Upstream.PingInterval == 0 {
		c.Upstream.PingInterval = 30 * time.Second
	}
	if c.Upstream.NoDataTimeout == 0 {
		c.Upstream.NoDataTimeout = 15 * time.Second
	}
	if c.Upstream.StockProvider == "" {
		c.Upstream.StockProvider = "twelvedata"
	}
	if c.Upstream.RequestTimeout == 0 {
		c.Upstream.RequestTimeout = 10 * time.Second
	}
	if c.Upstream.Binance.WebSocketURL == "" {
		c.Upstream.Binance.WebSocketURL = "wss://stream.binance.com:9443/ws"
	}
	if c.Upstream.Binance.RestURL == "" {
		c.Upstream.Binance.RestURL = "https://api.binance.com/api/v3"
	}
	if c.Upstream.TwelveData.WebSocketURL == "" {
		c.Upstream.TwelveData.WebSocketURL = "wss://ws.twelvedata.com/v1/quotes/price"
	}
	if c.Upstream.TwelveData.RestURL == "" {
		c.Upstream.TwelveData.RestURL = "https://api.twelvedata.com"
	}
	if c.Upstream.Finnhub.WebSocketURL == "" {
		c.Upstream.Finnhub.WebSocketURL = "wss://ws.finnhub.io"
	}
	if c.OTC.StatusCheckInterval == 0 {
		c.OTC.StatusCheckInterval = 30 * time.Second
	}
	if c.Pipeline.MaxRPS == 0 {
		c.Pipeline.MaxRPS = 50
	}
	if c.Pipeline.MaxTickAge == 0 {
		c.Pipeline.MaxTickAge = 10 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Kafka.Consumer.Enabled && !c.ClickHouse.Enabled {
		return fmt.Errorf("kafka.consumer requires clickhouse to be enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	switch c.Upstream.StockProvider {
	case "twelvedata", "finnhub":
	default:
		return fmt.Errorf("upstream.stock_provider must be 'twelvedata' or 'finnhub', got '%s'", c.Upstream.StockProvider)
	}
	for cat := range c.OTC.Categories {
		if !cat.Valid() {
			return fmt.Errorf("otc.categories: unknown category '%s'", cat)
		}
	}
	for _, in := range c.Instruments {
		if in.Symbol == "" {
			return fmt.Errorf("instruments: symbol is required")
		}
		if !in.Category.Valid() {
			return fmt.Errorf("instruments: %s has unknown category '%s'", in.Symbol, in.Category)
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Command is the synchronous request/response websocket.
	Command struct {
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		MaxMessageBytes int64         `yaml:"max_message_bytes"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"command"`

	Broadcast struct {
		Mode          string `yaml:"mode"` // memory or redis
		QueueSize     int    `yaml:"queue_size"`
		ChannelPrefix string `yaml:"channel_prefix"`
		HistorySize   int    `yaml:"history_size"`
	} `yaml:"broadcast"`

	Audit struct {
		Enabled       bool          `yaml:"enabled"`
		Path          string        `yaml:"path"`
		BufferSize    int           `yaml:"buffer_size"`
		BatchSize     int           `yaml:"batch_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
		RedisStream   string        `yaml:"redis_stream"`
		RedisMaxLen   int64         `yaml:"redis_max_len"`
	} `yaml:"audit"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Command channel
	if c.Command.PingInterval <= 0 {
		return fmt.Errorf("command.ping_interval must be > 0")
	}
	if c.Command.PongTimeout <= c.Command.PingInterval {
		return fmt.Errorf("command.pong_timeout must be > command.ping_interval")
	}
	if c.Command.WriteTimeout <= 0 {
		return fmt.Errorf("command.write_timeout must be > 0")
	}
	if c.Command.MaxMessageBytes <= 0 {
		return fmt.Errorf("command.max_message_bytes must be > 0")
	}

	// Broadcast
	switch c.Broadcast.Mode {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("broadcast.mode=redis requires redis.enabled=true")
		}
	default:
		return fmt.Errorf("broadcast.mode must be memory or redis, got %q", c.Broadcast.Mode)
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("broadcast.queue_size must be > 0")
	}
	if c.Broadcast.ChannelPrefix == "" {
		return fmt.Errorf("broadcast.channel_prefix must not be empty")
	}
	if c.Broadcast.HistorySize < 0 {
		return fmt.Errorf("broadcast.history_size must be >= 0")
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.Path == "" && c.Audit.RedisStream == "" {
			return fmt.Errorf("audit.path or audit.redis_stream must be set when audit.enabled=true")
		}
		if c.Audit.RedisStream != "" && !c.Redis.Enabled {
			return fmt.Errorf("audit.redis_stream requires redis.enabled=true")
		}
		if c.Audit.BufferSize <= 0 {
			return fmt.Errorf("audit.buffer_size must be > 0 when audit.enabled=true")
		}
		if c.Audit.BatchSize <= 0 {
			return fmt.Errorf("audit.batch_size must be > 0 when audit.enabled=true")
		}
		if c.Audit.FlushInterval <= 0 {
			return fmt.Errorf("audit.flush_interval must be > 0 when audit.enabled=true")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Command.PingInterval = 30 * time.Second
	cfg.Command.PongTimeout = 60 * time.Second
	cfg.Command.WriteTimeout = 10 * time.Second
	cfg.Command.MaxMessageBytes = 64 * 1024
	cfg.Command.AllowedOrigins = []string{"*"}

	cfg.Broadcast.Mode = "memory"
	cfg.Broadcast.QueueSize = 256
	cfg.Broadcast.ChannelPrefix = "chatfabric:topic:"
	cfg.Broadcast.HistorySize = 100

	cfg.Audit.Enabled = true
	cfg.Audit.Path = "data/audit.log"
	cfg.Audit.BufferSize = 1024
	cfg.Audit.BatchSize = 64
	cfg.Audit.FlushInterval = time.Second
	cfg.Audit.RedisMaxLen = 100000

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "chatfabric"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CHATFABRIC_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("CHATFABRIC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("CHATFABRIC_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if path := os.Getenv("CHATFABRIC_AUDIT_PATH"); path != "" {
		c.Audit.Path = path
	}
}

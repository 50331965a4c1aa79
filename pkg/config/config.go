package config

import (
	"fmt"
	"os"
	"time"

	"confvideo/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Conference struct {
		Name      string `yaml:"name"`
		ServerURL string `yaml:"server_url"`
		// Participants seeds the in-memory directory.
		Participants []ParticipantConfig `yaml:"participants"`
	} `yaml:"conference"`

	Transport struct {
		Scheme         string        `yaml:"scheme"` // rtmp or whep
		ConnectTimeout time.Duration `yaml:"connect_timeout"`

		RTMP struct {
			Port      int    `yaml:"port"`
			ChunkSize uint32 `yaml:"chunk_size"`
		} `yaml:"rtmp"`

		WHEP struct {
			Endpoint   string   `yaml:"endpoint"` // URL template root, e.g. https://host/whep
			ICEServers []string `yaml:"ice_servers"`
		} `yaml:"whep"`

		Retry struct {
			Enabled      bool          `yaml:"enabled"`
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`

		CircuitBreaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"transport"`

	Directory struct {
		// CacheTTL caches Redis directory reads; 0 disables the cache.
		CacheTTL time.Duration `yaml:"cache_ttl"`

		Redis struct {
			Enabled  bool   `yaml:"enabled"`
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"directory"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Diagnostics struct {
		// PacketLogRate caps debug packet log lines per second and session;
		// zero turns packet logging off.
		PacketLogRate float64 `yaml:"packet_log_rate"`
		// FeedBuffer is the per-subscriber queue of the websocket packet feed.
		FeedBuffer int `yaml:"feed_buffer"`
	} `yaml:"diagnostics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		Enabled        bool          `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
	} `yaml:"rate_limiting"`
}

type ParticipantConfig struct {
	ID         int    `yaml:"id"`
	Name       string `yaml:"name"`
	HasStream  bool   `yaml:"has_stream"`
	StreamName string `yaml:"stream_name"`
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

	// Conference
	if c.Conference.Name == "" {
		return fmt.Errorf("conference.name must not be empty")
	}
	if c.Conference.ServerURL == "" {
		return fmt.Errorf("conference.server_url must not be empty")
	}
	seen := make(map[int]bool, len(c.Conference.Participants))
	for _, p := range c.Conference.Participants {
		if p.ID < 0 {
			return fmt.Errorf("conference.participants: id must be >= 0, got %d", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("conference.participants: duplicate id %d", p.ID)
		}
		seen[p.ID] = true
	}

	// Transport
	switch c.Transport.Scheme {
	case "rtmp", "whep":
	default:
		return fmt.Errorf("transport.scheme must be rtmp or whep, got %q", c.Transport.Scheme)
	}
	if c.Transport.ConnectTimeout <= 0 {
		return fmt.Errorf("transport.connect_timeout must be > 0")
	}
	if c.Transport.Scheme == "whep" {
		if err := validation.ValidateURL(c.Transport.WHEP.Endpoint, "http", "https"); err != nil {
			return fmt.Errorf("transport.whep.endpoint: %w", err)
		}
	}
	if c.Transport.Retry.Enabled {
		if c.Transport.Retry.MaxAttempts < 0 {
			return fmt.Errorf("transport.retry.max_attempts must be >= 0")
		}
		if c.Transport.Retry.InitialDelay <= 0 || c.Transport.Retry.MaxDelay < c.Transport.Retry.InitialDelay {
			return fmt.Errorf("transport.retry delays must satisfy 0 < initial_delay <= max_delay")
		}
	}
	if c.Transport.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("transport.circuit_breaker.failure_threshold must be > 0")
	}

	// Directory
	if c.Directory.CacheTTL < 0 {
		return fmt.Errorf("directory.cache_ttl must be >= 0")
	}
	if c.Directory.Redis.Enabled {
		if c.Directory.Redis.Address == "" {
			return fmt.Errorf("directory.redis.address must not be empty when redis is enabled")
		}
		if c.Directory.Redis.PoolSize <= 0 {
			return fmt.Errorf("directory.redis.pool_size must be > 0 when redis is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	// Diagnostics
	if c.Diagnostics.PacketLogRate < 0 {
		return fmt.Errorf("diagnostics.packet_log_rate must be >= 0")
	}
	if c.Diagnostics.FeedBuffer <= 0 {
		return fmt.Errorf("diagnostics.feed_buffer must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth is enabled")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.max_concurrent must be >= 0 when rate limiting is enabled")
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
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Conference.Name = "default"
	cfg.Conference.ServerURL = "http://localhost"

	cfg.Transport.Scheme = "rtmp"
	cfg.Transport.ConnectTimeout = 10 * time.Second
	cfg.Transport.RTMP.Port = 1935
	cfg.Transport.RTMP.ChunkSize = 128
	cfg.Transport.WHEP.ICEServers = []string{"stun:stun.l.google.com:19302"}
	cfg.Transport.Retry.Enabled = true
	cfg.Transport.Retry.MaxAttempts = 3
	cfg.Transport.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Transport.Retry.MaxDelay = 5 * time.Second
	cfg.Transport.CircuitBreaker.FailureThreshold = 5
	cfg.Transport.CircuitBreaker.Timeout = 30 * time.Second

	cfg.Directory.CacheTTL = 2 * time.Second
	cfg.Directory.Redis.Enabled = false
	cfg.Directory.Redis.Address = "localhost:6379"
	cfg.Directory.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Diagnostics.PacketLogRate = 1
	cfg.Diagnostics.FeedBuffer = 64

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CONFVIDEO_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("CONFVIDEO_CONFERENCE_SERVER_URL"); url != "" {
		c.Conference.ServerURL = url
	}
	if name := os.Getenv("CONFVIDEO_CONFERENCE_NAME"); name != "" {
		c.Conference.Name = name
	}
	if level := os.Getenv("CONFVIDEO_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CONFVIDEO_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("CONFVIDEO_REDIS_ADDRESS"); addr != "" {
		c.Directory.Redis.Address = addr
		c.Directory.Redis.Enabled = true
	}
}

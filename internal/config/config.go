package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Cache  CacheConfig  `yaml:"cache"`
	Engine EngineConfig `yaml:"engine"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Markup MarkupConfig `yaml:"markup"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MaxBodyBytes   int64         `yaml:"maxBodyBytes"`
}

type CacheConfig struct {
	Backend      string        `yaml:"backend"` // redis | memory | none
	RedisURL     string        `yaml:"redisURL"`
	Lifespan     time.Duration `yaml:"lifespan"`
	Prefix       string        `yaml:"prefix"`
	PingInterval time.Duration `yaml:"pingInterval"`
	MaxEntries   int           `yaml:"maxEntries"` // memory backend only
}

type EngineConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"maxBytes"`
}

type MarkupConfig struct {
	MathSize string `yaml:"mathSize"`
	ImageDPI int    `yaml:"imageDPI"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8000",
			RequestTimeout: 60 * time.Second,
			MaxBodyBytes:   2 << 20,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			RedisURL:     "redis://localhost:6379",
			Lifespan:     30 * time.Minute,
			Prefix:       "math2image",
			PingInterval: 5 * time.Second,
			MaxEntries:   10_000,
		},
		Engine: EngineConfig{
			URL:        "http://127.0.0.1:8001",
			Timeout:    30 * time.Second,
			MaxRetries: 1,
		},
		Fetch: FetchConfig{
			Timeout:  15 * time.Second,
			MaxBytes: 5 << 20,
		},
		Markup: MarkupConfig{
			MathSize: "16px",
			ImageDPI: 20,
		},
	}
}

// Load reads defaults, then the YAML file named by CONFIG_FILE (if any), then
// environment overrides, and validates the result.
func Load() (*Config, error) {
	return load(os.Getenv("CONFIG_FILE"), os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int64) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("PORT", &cfg.Server.Port)
	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("REDIS_URL", &cfg.Cache.RedisURL)
	str("CACHE_PREFIX", &cfg.Cache.Prefix)
	str("RENDER_ENGINE_URL", &cfg.Engine.URL)
	str("MATH_SIZE", &cfg.Markup.MathSize)

	dpi := int64(cfg.Markup.ImageDPI)
	entries := int64(cfg.Cache.MaxEntries)
	err := errors.Join(
		dur("REQUEST_TIMEOUT", &cfg.Server.RequestTimeout),
		dur("CACHE_LIFESPAN", &cfg.Cache.Lifespan),
		dur("RENDER_TIMEOUT", &cfg.Engine.Timeout),
		dur("FETCH_TIMEOUT", &cfg.Fetch.Timeout),
		num("MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes),
		num("FETCH_MAX_BYTES", &cfg.Fetch.MaxBytes),
		num("IMAGE_DPI", &dpi),
		num("CACHE_MAX_ENTRIES", &entries),
	)
	cfg.Markup.ImageDPI = int(dpi)
	cfg.Cache.MaxEntries = int(entries)
	if err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	return nil
}

var mathSizePattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(px|pt|em|ex|%)?$`)

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if n, err := strconv.Atoi(c.Server.Port); err != nil || n <= 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("port %q is not a valid TCP port", c.Server.Port))
	}
	switch c.Cache.Backend {
	case "redis", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("cache backend %q must be redis, memory or none", c.Cache.Backend))
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		errs = append(errs, errors.New("redis backend needs a redis URL"))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache max entries must be positive"))
	}
	if c.Cache.Lifespan <= 0 {
		errs = append(errs, errors.New("cache lifespan must be positive"))
	}
	if c.Engine.URL == "" {
		errs = append(errs, errors.New("render engine URL is required"))
	}
	if c.Engine.Timeout <= 0 || c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("engine and fetch timeouts must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 || c.Fetch.MaxBytes <= 0 {
		errs = append(errs, errors.New("body and fetch size limits must be positive"))
	}
	if c.Markup.ImageDPI <= 0 {
		errs = append(errs, errors.New("image DPI must be positive"))
	}
	if !mathSizePattern.MatchString(c.Markup.MathSize) {
		errs = append(errs, fmt.Errorf("math size %q is not a CSS length", c.Markup.MathSize))
	}

	return errors.Join(errs...)
}

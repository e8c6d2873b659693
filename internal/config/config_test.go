package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8000" || cfg.Cache.Backend != "memory" || cfg.Cache.Lifespan != 30*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Markup.MathSize != "16px" || cfg.Markup.ImageDPI != 20 {
		t.Fatalf("unexpected markup defaults %+v", cfg.Markup)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "9000"
cache:
  backend: redis
  redisURL: redis://cache:6379/1
  lifespan: 1h
engine:
  url: http://engine:8001
markup:
  mathSize: 20px
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := load(path, envMap(map[string]string{
		"PORT":           "9100",
		"RENDER_TIMEOUT": "5s",
		"IMAGE_DPI":      "10",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "9100" {
		t.Fatalf("env should override file, port = %q", cfg.Server.Port)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisURL != "redis://cache:6379/1" || cfg.Cache.Lifespan != time.Hour {
		t.Fatalf("cache from file = %+v", cfg.Cache)
	}
	if cfg.Engine.URL != "http://engine:8001" || cfg.Engine.Timeout != 5*time.Second {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Markup.MathSize != "20px" || cfg.Markup.ImageDPI != 10 {
		t.Fatalf("markup = %+v", cfg.Markup)
	}
	// untouched keys keep their defaults
	if cfg.Fetch.MaxBytes != 5<<20 {
		t.Fatalf("fetch max bytes = %d", cfg.Fetch.MaxBytes)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"backend":  {"CACHE_BACKEND": "memcached"},
		"duration": {"CACHE_LIFESPAN": "forever"},
		"port":     {"PORT": "http"},
		"size":     {"MATH_SIZE": "big"},
		"dpi":      {"IMAGE_DPI": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load("", envMap(env)); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}

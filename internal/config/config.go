package config

import (
	"fmt"
	"time"
)

type Config struct {
	Backend BackendConfig
	Server  ServerConfig
	Storage StorageConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Log     LogConfig
}

// BackendConfig locates the remote knowledge-base service.
type BackendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	Backend string // sqlite, redis or memory
	DataDir string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type AuthConfig struct {
	AdminEmail    string
	AdminPassword string
	JWTSecret     string
	TokenTTL      time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			DataDir: defaultDataDir(),
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "kbdesk:",
		},
		Auth: AuthConfig{
			AdminEmail:    "admin@uol.edu.pk",
			AdminPassword: "admin123",
			TokenTTL:      24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the TOML file and environment variables.
//
// The file lives at $XDG_CONFIG_HOME/kbdesk/config.toml unless KBDESK_CONFIG
// names another path. Environment variables (KBDESK_*) override file values.
func Load() (Config, error) {
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	b, err := openFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("invalid config: storage.backend must be sqlite, redis or memory, got %q", cfg.Storage.Backend)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Auth.AdminEmail == "" {
		return fmt.Errorf("missing required config: auth.admin_email")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("invalid config: auth.token_ttl must be positive")
	}
	return nil
}

// ServerAddr is the listen address for the HTTP console.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

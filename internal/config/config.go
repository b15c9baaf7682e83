package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Versions VersionsConfig `mapstructure:"Versions"`
	Auth     AuthConfig     `mapstructure:"Auth"`
	Log      LogConfig      `mapstructure:"Log"`
}

type ServerConfig struct {
	Port          string `mapstructure:"Port"`
	MaxUploadSize int64  `mapstructure:"MaxUploadSize"`
}

type DatabaseConfig struct {
	Host          string `mapstructure:"Host"`
	Port          string `mapstructure:"Port"`
	User          string `mapstructure:"User"`
	Password      string `mapstructure:"Password"`
	Name          string `mapstructure:"Name"`
	SSLMode       string `mapstructure:"SSLMode"`
	MigrationsDir string `mapstructure:"MigrationsDir"`
}

// VersionsConfig настройки хранения версий
type VersionsConfig struct {
	// Retention политика хранения: "auto", "D1, auto", "auto, D2", "D1, D2" или "disabled"
	Retention      string        `mapstructure:"Retention"`
	ExpireInterval time.Duration `mapstructure:"ExpireInterval"`
}

type AuthConfig struct {
	UserHeader string `mapstructure:"UserHeader"`
}

type LogConfig struct {
	Level  string `mapstructure:"Level"`
	Pretty bool   `mapstructure:"Pretty"`
}

var envBindings = map[string]string{
	"Database.Host":           "DATABASE_HOST",
	"Database.Port":           "DATABASE_PORT",
	"Database.User":           "DATABASE_USER",
	"Database.Password":       "DATABASE_PASSWORD",
	"Database.Name":           "DATABASE_NAME",
	"Database.SSLMode":        "DATABASE_SSLMODE",
	"Database.MigrationsDir":  "DATABASE_MIGRATIONS_DIR",
	"Server.Port":             "HTTP_PORT",
	"Server.MaxUploadSize":    "HTTP_MAX_UPLOAD_SIZE",
	"Versions.Retention":      "VERSIONS_RETENTION",
	"Versions.ExpireInterval": "VERSIONS_EXPIRE_INTERVAL",
	"Auth.UserHeader":         "AUTH_USER_HEADER",
	"Log.Level":               "LOG_LEVEL",
	"Log.Pretty":              "LOG_PRETTY",
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	// Значения по умолчанию
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.MaxUploadSize", 100<<20)
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Database.MigrationsDir", "migrations")
	v.SetDefault("Versions.Retention", "auto")
	v.SetDefault("Versions.ExpireInterval", time.Hour)
	v.SetDefault("Auth.UserHeader", "X-User-ID")
	v.SetDefault("Log.Level", "info")

	// Читаем конфигурацию из файла
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("using only environment variables")
	}

	// В .env файле ключи плоские (DATABASE_HOST=...), переносим их во вложенные
	for key, env := range envBindings {
		if v.InConfig(env) {
			v.SetDefault(key, v.Get(env))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Проверяем, что все необходимые поля заполнены
	if cfg.Database.Host == "" ||
		cfg.Database.Port == "" ||
		cfg.Database.User == "" ||
		cfg.Database.Password == "" ||
		cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
	}

	if cfg.Versions.ExpireInterval <= 0 {
		return nil, fmt.Errorf("versions expire interval must be positive, got %s", cfg.Versions.ExpireInterval)
	}

	return &cfg, nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL возвращает адрес базы в формате URL для golang-migrate
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppSettings      `mapstructure:"app"`
	Postgres PostgresSettings `mapstructure:"postgres"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Auth     AuthSettings     `mapstructure:"auth"`
	API      APISettings      `mapstructure:"api"`
	Query    QuerySettings    `mapstructure:"query"`
	Console  ConsoleSettings  `mapstructure:"console"`
}

type AppSettings struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type PostgresSettings struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisSettings configures the console session backend. An empty Addr keeps sessions in memory.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AuthSettings struct {
	Secret    string        `mapstructure:"secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	AdminRole string        `mapstructure:"admin_role"`
}

type APISettings struct {
	Addr         string   `mapstructure:"addr"`
	Resources    []string `mapstructure:"resources"`
	RateBurst    int      `mapstructure:"rate_burst"`
	RatePerSec   int      `mapstructure:"rate_per_sec"`
	MaxBodyBytes int64    `mapstructure:"max_body_bytes"`
	// WriteRoles maps a resource to the non-admin roles allowed to write it.
	WriteRoles map[string][]string `mapstructure:"write_roles"`
}

type QuerySettings struct {
	ForbiddenTables []string `mapstructure:"forbidden_tables"`
	DefaultLimit    int      `mapstructure:"default_limit"`
	MaxLimit        int      `mapstructure:"max_limit"`
}

type ConsoleSettings struct {
	Addr       string            `mapstructure:"addr"`
	APIBaseURL string            `mapstructure:"api_base_url"`
	SessionTTL time.Duration     `mapstructure:"session_ttl"`
	Pages      map[string]string `mapstructure:"pages"`
}

// Load reads configuration from an optional .env file and SIGEP_* environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SIGEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// AutomaticEnv only resolves keys viper already knows about; bind the ones without defaults.
	for _, key := range []string{"postgres.dsn", "redis.password", "auth.secret"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.API.Resources = splitList(cfg.API.Resources)
	cfg.Query.ForbiddenTables = splitList(cfg.Query.ForbiddenTables)
	return &cfg, nil
}

// ValidateAPI checks the settings the API binary cannot start without.
func (c *Config) ValidateAPI() error {
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return errors.New("postgres.dsn is required (SIGEP_POSTGRES_DSN)")
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("auth.secret is required (SIGEP_AUTH_SECRET)")
	}
	if len(c.API.Resources) == 0 {
		return errors.New("api.resources must list at least one table")
	}
	return nil
}

// ValidateConsole checks the settings the console binary cannot start without.
func (c *Config) ValidateConsole() error {
	if strings.TrimSpace(c.Console.APIBaseURL) == "" {
		return errors.New("console.api_base_url is required")
	}
	if c.Console.SessionTTL <= 0 {
		return errors.New("console.session_ttl must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sigep:session")

	v.SetDefault("auth.token_ttl", 8*time.Hour)
	v.SetDefault("auth.admin_role", "Administrador")

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.resources", []string{
		"usuario", "rol", "usuario_rol", "ruta", "ruta_rol",
		"proyecto", "presupuesto", "entregable",
	})
	v.SetDefault("api.rate_burst", 50)
	v.SetDefault("api.rate_per_sec", 25)
	v.SetDefault("api.max_body_bytes", 1<<20)
	v.SetDefault("api.write_roles", map[string][]string{
		"proyecto":    {"Gestor"},
		"presupuesto": {"Gestor"},
		"entregable":  {"Gestor"},
	})

	v.SetDefault("query.forbidden_tables", []string{"usuario", "usuario_rol", "auditoria", "schema_migrations"})
	v.SetDefault("query.default_limit", 500)
	v.SetDefault("query.max_limit", 5000)

	v.SetDefault("console.addr", ":8081")
	v.SetDefault("console.api_base_url", "http://localhost:8080")
	v.SetDefault("console.session_ttl", 8*time.Hour)
	v.SetDefault("console.pages", map[string]string{
		"/proyectos":    "proyecto",
		"/presupuestos": "presupuesto",
		"/entregables":  "entregable",
		"/usuarios":     "usuario",
		"/roles":        "rol",
		"/rutas":        "ruta",
	})
}

// splitList accepts both proper lists and a single comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

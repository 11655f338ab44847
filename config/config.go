package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"

	"moddash/errs"
)

// AdminAccount is one statically configured dashboard administrator.
// PasswordHash is a bcrypt hash, never a plaintext password.
type AdminAccount struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type Config struct {
	AppName        string         `mapstructure:"app_name"`
	ListenIP       string         `mapstructure:"listen_ip"`
	ListenPort     int            `mapstructure:"listen_port"`
	SecretKey      string         `mapstructure:"secret_key"`
	SessionTimeout int            `mapstructure:"session_timeout"`
	Environment    string         `mapstructure:"environment"`
	LogLevel       string         `mapstructure:"log_level"`
	LogDir         string         `mapstructure:"log_dir"`
	AuditDBPath    string         `mapstructure:"audit_db_path"`
	LoginRateLimit int            `mapstructure:"login_rate_limit"`
	CORSOrigins    []string       `mapstructure:"cors_origins"`
	Admins         []AdminAccount `mapstructure:"admins"`
	Database       DatabaseConfig `mapstructure:"database"`
}

const (
	DefaultSessionTimeout = 1800
	placeholderSecret     = "CHANGE_ME_IN_PRODUCTION"
)

var AppConfig Config

// envBindings maps config keys to the environment variables that may set
// them. The first variable found wins.
var envBindings = map[string][]string{
	"app_name":          {"MODDASH_APP_NAME", "APP_NAME"},
	"listen_ip":         {"MODDASH_LISTEN_IP", "LISTEN_IP"},
	"listen_port":       {"MODDASH_LISTEN_PORT", "LISTEN_PORT"},
	"secret_key":        {"MODDASH_SECRET_KEY", "SECRET_KEY"},
	"session_timeout":   {"MODDASH_SESSION_TIMEOUT", "SESSION_TIMEOUT"},
	"environment":       {"MODDASH_ENVIRON", "ENVIRON"},
	"log_level":         {"MODDASH_LOG_LEVEL", "LOG_LEVEL"},
	"log_dir":           {"MODDASH_LOG_DIR", "LOG_DIR"},
	"audit_db_path":     {"MODDASH_AUDIT_DB_PATH", "AUDIT_DB_PATH"},
	"login_rate_limit":  {"MODDASH_LOGIN_RATE_LIMIT", "LOGIN_RATE_LIMIT"},
	"cors_origins":      {"MODDASH_CORS_ORIGINS", "CORS_ORIGINS"},
	"admin_username":    {"MODDASH_ADMIN_USERNAME", "ADMIN_USERNAME"},
	"admin_password":    {"MODDASH_ADMIN_PASSWORD_HASH", "ADMIN_PASSWORD_HASH"},
	"database.driver":   {"MODDASH_DB_DRIVER", "DB_DRIVER"},
	"database.dsn":      {"MODDASH_DB_DSN", "DB_DSN"},
	"database.host":     {"MODDASH_DB_HOST", "DB_HOST"},
	"database.port":     {"MODDASH_DB_PORT", "DB_PORT"},
	"database.user":     {"MODDASH_DB_USER", "DB_USER"},
	"database.password": {"MODDASH_DB_PASSWORD", "DB_PASSWORD"},
	"database.name":     {"MODDASH_DB_NAME", "DB_NAME"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "Moderation Dashboard")
	v.SetDefault("listen_ip", "127.0.0.1")
	v.SetDefault("listen_port", 8080)
	v.SetDefault("session_timeout", DefaultSessionTimeout)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("audit_db_path", "./moddash.db")
	v.SetDefault("login_rate_limit", 20)
	v.SetDefault("admin_username", "admin")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")
}

// LoadConfig reads the optional config file at path (JSON, YAML or TOML,
// by extension) into AppConfig, then applies environment overrides.
// An empty path loads from the environment only.
func LoadConfig(path string) error {
	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}

	// Environment-supplied admin comes first; file entries follow.
	if hash := v.GetString("admin_password"); hash != "" {
		env := AdminAccount{Username: v.GetString("admin_username"), PasswordHash: hash, Role: "admin"}
		cfg.Admins = append([]AdminAccount{env}, cfg.Admins...)
	}
	for i := range cfg.Admins {
		if cfg.Admins[i].Role == "" {
			cfg.Admins[i].Role = "admin"
		}
	}

	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}

	// If no key is provided or it's the placeholder, generate a secure random one
	if cfg.SecretKey == "" || cfg.SecretKey == placeholderSecret {
		log.Println("WARNING: No secret key configured. Generating a random key. Sessions will be invalidated on restart.")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		cfg.SecretKey = hex.EncodeToString(randomKey)
	}

	AppConfig = cfg
	return nil
}

// IsProduction reports whether the dashboard runs in production mode.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c Config) SessionTimeoutDuration() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Second
}

// Validate rejects configurations that are unsafe to run in production.
// Development mode accepts the fallback admin account and an empty
// database password.
func (c Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	var missing []string
	if len(c.Admins) == 0 {
		missing = append(missing, "ADMIN_PASSWORD_HASH")
	}
	if c.Database.DSN == "" && c.Database.Password == "" && c.Database.Driver == "mysql" {
		missing = append(missing, "DB_PASSWORD")
	}
	if len(missing) > 0 {
		return errs.Config(fmt.Sprintf("missing required environment variables: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// DatabaseDSN returns the platform database DSN. An explicit DSN wins;
// otherwise a MySQL DSN is assembled from the individual settings.
func (c Config) DatabaseDSN() (string, error) {
	if c.Database.DSN != "" {
		return c.Database.DSN, nil
	}
	if c.Database.Driver != "mysql" {
		return "", errs.Config("database dsn is required for driver " + c.Database.Driver)
	}
	mc := mysql.NewConfig()
	mc.User = c.Database.User
	mc.Passwd = c.Database.Password
	mc.Net = "tcp"
	mc.Addr = c.Database.Host + ":" + c.Database.Port
	mc.DBName = c.Database.Name
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

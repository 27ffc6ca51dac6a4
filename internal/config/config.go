package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string

	DBDriver          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	StoreCASRetries   int

	TrustProxy         bool
	CORSAllowedOrigins []string
	AdminAPIEnabled    bool

	CaptchaEnabled   bool
	CaptchaProvider  string
	CaptchaVerifyURL string
	CaptchaSecret    string

	OracleURL        string
	OracleToken      string
	OracleTimeoutSec int
	OracleFailOpen   bool

	NotifySender string
	NotifyFrom   string
	SMTPHost     string
	SMTPPort     int

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int
}

func defaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("APP_DB_PATH", "./data/accounts.db")
	v.SetDefault("APP_DB_MAX_OPEN_CONNS", 4)
	v.SetDefault("APP_DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("APP_DB_CONN_MAX_LIFETIME_MIN", 30)
	v.SetDefault("STORE_CAS_RETRIES", 5)
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("ADMIN_API_ENABLED", true)
	v.SetDefault("CAPTCHA_ENABLED", false)
	v.SetDefault("CAPTCHA_PROVIDER", "turnstile")
	v.SetDefault("ORACLE_TIMEOUT_SEC", 8)
	v.SetDefault("ORACLE_FAIL_OPEN", false)
	v.SetDefault("NOTIFY_SENDER", "log")
	v.SetDefault("NOTIFY_FROM", "accounts@example.com")
	v.SetDefault("SMTP_HOST", "127.0.0.1")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("HTTP_READ_TIMEOUT_SEC", 10)
	v.SetDefault("HTTP_READ_HEADER_TIMEOUT_SEC", 5)
	v.SetDefault("HTTP_WRITE_TIMEOUT_SEC", 30)
	v.SetDefault("HTTP_IDLE_TIMEOUT_SEC", 60)
}

// Load reads configuration from the environment, optionally layered over the
// file named by CONFIG_FILE.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		ListenAddr:               v.GetString("LISTEN_ADDR"),
		DBDriver:                 strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DBDSN:                    strings.TrimSpace(v.GetString("DB_DSN")),
		DBMaxOpenConns:           v.GetInt("APP_DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:           v.GetInt("APP_DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetime:        time.Duration(v.GetInt("APP_DB_CONN_MAX_LIFETIME_MIN")) * time.Minute,
		StoreCASRetries:          v.GetInt("STORE_CAS_RETRIES"),
		TrustProxy:               v.GetBool("TRUST_PROXY"),
		CORSAllowedOrigins:       splitCSV(v.GetString("CORS_ALLOWED_ORIGINS")),
		AdminAPIEnabled:          v.GetBool("ADMIN_API_ENABLED"),
		CaptchaEnabled:           v.GetBool("CAPTCHA_ENABLED"),
		CaptchaProvider:          strings.ToLower(v.GetString("CAPTCHA_PROVIDER")),
		CaptchaVerifyURL:         v.GetString("CAPTCHA_VERIFY_URL"),
		CaptchaSecret:            v.GetString("CAPTCHA_SECRET"),
		OracleURL:                strings.TrimSpace(v.GetString("ORACLE_URL")),
		OracleToken:              v.GetString("ORACLE_TOKEN"),
		OracleTimeoutSec:         v.GetInt("ORACLE_TIMEOUT_SEC"),
		OracleFailOpen:           v.GetBool("ORACLE_FAIL_OPEN"),
		NotifySender:             strings.ToLower(strings.TrimSpace(v.GetString("NOTIFY_SENDER"))),
		NotifyFrom:               v.GetString("NOTIFY_FROM"),
		SMTPHost:                 v.GetString("SMTP_HOST"),
		SMTPPort:                 v.GetInt("SMTP_PORT"),
		HTTPReadTimeoutSec:       v.GetInt("HTTP_READ_TIMEOUT_SEC"),
		HTTPReadHeaderTimeoutSec: v.GetInt("HTTP_READ_HEADER_TIMEOUT_SEC"),
		HTTPWriteTimeoutSec:      v.GetInt("HTTP_WRITE_TIMEOUT_SEC"),
		HTTPIdleTimeoutSec:       v.GetInt("HTTP_IDLE_TIMEOUT_SEC"),
	}

	switch cfg.DBDriver {
	case "sqlite", "":
		cfg.DBDriver = "sqlite"
		if cfg.DBDSN == "" {
			cfg.DBDSN = v.GetString("APP_DB_PATH")
		}
	case "pgx", "postgres", "mysql":
		if cfg.DBDSN == "" {
			return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=%s", cfg.DBDriver)
		}
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be one of: sqlite, pgx, mysql")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.StoreCASRetries <= 0 {
		return Config{}, fmt.Errorf("STORE_CAS_RETRIES must be positive")
	}
	if cfg.OracleTimeoutSec <= 0 {
		return Config{}, fmt.Errorf("ORACLE_TIMEOUT_SEC must be positive")
	}
	switch cfg.NotifySender {
	case "", "log":
		cfg.NotifySender = "log"
	case "smtp":
		if cfg.SMTPPort <= 0 || strings.TrimSpace(cfg.SMTPHost) == "" {
			return Config{}, fmt.Errorf("invalid SMTP host/port for NOTIFY_SENDER=smtp")
		}
	case "none":
	default:
		return Config{}, fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp, none")
	}
	if cfg.CaptchaEnabled {
		if strings.TrimSpace(cfg.CaptchaSecret) == "" {
			return Config{}, fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_ENABLED=true")
		}
		if strings.TrimSpace(cfg.CaptchaVerifyURL) == "" {
			switch cfg.CaptchaProvider {
			case "turnstile", "":
				cfg.CaptchaVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
			case "hcaptcha":
				cfg.CaptchaVerifyURL = "https://hcaptcha.com/siteverify"
			default:
				return Config{}, fmt.Errorf("unsupported CAPTCHA_PROVIDER: %s", cfg.CaptchaProvider)
			}
		}
	}
	return cfg, nil
}

func (c Config) OracleTimeout() time.Duration {
	if c.OracleTimeoutSec <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.OracleTimeoutSec) * time.Second
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

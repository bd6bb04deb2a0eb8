package auth

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ADMINAUTH_"

type AppSettings struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type ServerSettings struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	AdminAPIKey string `yaml:"admin_api_key"`
}

type DatabaseSettings struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type TokenSettings struct {
	Scheme     string        `yaml:"scheme"`
	SigningKey string        `yaml:"signing_key"`
	Issuer     string        `yaml:"issuer"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
	SingleUse  bool          `yaml:"single_use"`
}

type RedisSettings struct {
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db"`
	Prefix string `yaml:"prefix"`
}

type ReplaySettings struct {
	Kind  string        `yaml:"kind"`
	Redis RedisSettings `yaml:"redis"`
}

type LinkSettings struct {
	BaseURL       string `yaml:"base_url"`
	VerifyPath    string `yaml:"verify_path"`
	AdminRedirect string `yaml:"admin_redirect"`
	UserRedirect  string `yaml:"user_redirect"`
	LoginRedirect string `yaml:"login_redirect"`
}

type SMTPSettings struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	From    string `yaml:"from"`
	User    string `yaml:"user"`
	Pass    string `yaml:"pass"`
	TLSMode string `yaml:"tls_mode"`
}

// Settings is the full runtime configuration. It implements Config.
type Settings struct {
	App              AppSettings      `yaml:"app"`
	Server           ServerSettings   `yaml:"server"`
	Database         DatabaseSettings `yaml:"database"`
	Token            TokenSettings    `yaml:"token"`
	Replay           ReplaySettings   `yaml:"replay"`
	AdminEmail       string           `yaml:"admin_email"`
	Links            LinkSettings     `yaml:"links"`
	SMTP             SMTPSettings     `yaml:"smtp"`
	OperationTimeout time.Duration    `yaml:"operation_timeout"`
}

// DefaultSettings returns a configuration usable for local development,
// except for the signing key which must always be provided.
func DefaultSettings() *Settings {
	return &Settings{
		App: AppSettings{
			Env:      "dev",
			LogLevel: "info",
		},
		Server: ServerSettings{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Database: DatabaseSettings{
			Driver:      DriverSQLite,
			DSN:         "file:adminauth.db?cache=shared",
			AutoMigrate: true,
		},
		Token: TokenSettings{
			Scheme:    TokenSchemeSigned,
			Issuer:    "adminauth",
			ClockSkew: DefaultClockSkew,
		},
		Replay: ReplaySettings{
			Kind: "memory",
		},
		AdminEmail: "admin@mail.com",
		Links: LinkSettings{
			BaseURL:       "http://127.0.0.1:8080",
			VerifyPath:    defaultVerifyPath,
			AdminRedirect: "/admin",
			UserRedirect:  "/",
			LoginRedirect: "/login",
		},
		SMTP: SMTPSettings{
			Port:    587,
			TLSMode: "auto",
		},
		OperationTimeout: defaultOperationTimeout,
	}
}

// LoadDotEnv loads a .env file when present. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadSettings reads path (optional) over the defaults, applies ADMINAUTH_*
// environment overrides and validates the result.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, s); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	s.applyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings that would otherwise fail at wiring time.
func (s *Settings) Validate() error {
	return validation.Errors{
		"database": validation.ValidateStruct(&s.Database,
			validation.Field(&s.Database.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
			validation.Field(&s.Database.DSN, validation.Required),
		),
		"token": validation.ValidateStruct(&s.Token,
			validation.Field(&s.Token.Scheme, validation.Required, validation.In(TokenSchemeSigned, TokenSchemeBase64)),
			validation.Field(&s.Token.SigningKey, validation.By(s.requireSigningKey)),
			validation.Field(&s.Token.ClockSkew, validation.Min(time.Duration(0))),
		),
		"replay": validation.ValidateStruct(&s.Replay,
			validation.Field(&s.Replay.Kind, validation.In("memory", "redis")),
			validation.Field(&s.Replay.Redis, validation.By(s.requireRedis)),
		),
		"admin_email": validation.Validate(s.AdminEmail, validation.Required, is.Email),
		"links": validation.ValidateStruct(&s.Links,
			validation.Field(&s.Links.BaseURL, validation.Required, is.URL),
			validation.Field(&s.Links.VerifyPath, validation.Required),
			validation.Field(&s.Links.AdminRedirect, validation.Required),
			validation.Field(&s.Links.UserRedirect, validation.Required),
			validation.Field(&s.Links.LoginRedirect, validation.Required),
		),
		"operation_timeout": validation.Validate(s.OperationTimeout, validation.By(positiveDuration)),
	}.Filter()
}

func (s *Settings) requireSigningKey(value interface{}) error {
	if s.Token.Scheme != TokenSchemeSigned {
		return nil
	}
	key, _ := value.(string)
	if len(strings.TrimSpace(key)) < 16 {
		return errors.New("must be at least 16 characters for signed tokens")
	}
	return nil
}

func (s *Settings) requireRedis(value interface{}) error {
	if s.Replay.Kind != "redis" {
		return nil
	}
	r, _ := value.(RedisSettings)
	if strings.TrimSpace(r.Addr) == "" {
		return errors.New("addr is required for redis replay guard")
	}
	return nil
}

func positiveDuration(value interface{}) error {
	d, _ := value.(time.Duration)
	if d <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

func (s *Settings) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		s.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		s.App.LogLevel = strings.ToLower(v)
	}

	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		s.Server.Addr = v
	}
	if v, ok := getEnvStr("METRICS_ADDR"); ok {
		s.Server.MetricsAddr = v
	}
	if v, ok := getEnvStr("ADMIN_API_KEY"); ok {
		s.Server.AdminAPIKey = v
	}

	if v, ok := getEnvStr("DB_DRIVER"); ok {
		s.Database.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("DB_DSN"); ok {
		s.Database.DSN = v
	}
	if v, ok := getEnvBool("DB_AUTO_MIGRATE"); ok {
		s.Database.AutoMigrate = v
	}

	if v, ok := getEnvStr("TOKEN_SCHEME"); ok {
		s.Token.Scheme = strings.ToLower(v)
	}
	if v, ok := getEnvStr("TOKEN_SIGNING_KEY"); ok {
		s.Token.SigningKey = v
	}
	if v, ok := getEnvStr("TOKEN_ISSUER"); ok {
		s.Token.Issuer = v
	}
	if v, ok := getEnvDur("TOKEN_CLOCK_SKEW"); ok {
		s.Token.ClockSkew = v
	}
	if v, ok := getEnvBool("TOKEN_SINGLE_USE"); ok {
		s.Token.SingleUse = v
	}

	if v, ok := getEnvStr("REPLAY_KIND"); ok {
		s.Replay.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		s.Replay.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		s.Replay.Redis.DB = v
	}

	if v, ok := getEnvStr("ADMIN_EMAIL"); ok {
		s.AdminEmail = v
	}
	if v, ok := getEnvStr("BASE_URL"); ok {
		s.Links.BaseURL = v
	}

	if v, ok := getEnvStr("SMTP_HOST"); ok {
		s.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		s.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		s.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_USER"); ok {
		s.SMTP.User = v
	}
	if v, ok := getEnvStr("SMTP_PASS"); ok {
		s.SMTP.Pass = v
	}

	if v, ok := getEnvDur("OPERATION_TIMEOUT"); ok {
		s.OperationTimeout = v
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func (s *Settings) GetAdminEmail() string              { return NormalizeEmail(s.AdminEmail) }
func (s *Settings) GetTokenScheme() string             { return s.Token.Scheme }
func (s *Settings) GetSigningKey() string              { return s.Token.SigningKey }
func (s *Settings) GetIssuer() string                  { return s.Token.Issuer }
func (s *Settings) GetClockSkew() time.Duration        { return s.Token.ClockSkew }
func (s *Settings) GetSingleUseTokens() bool           { return s.Token.SingleUse }
func (s *Settings) GetBaseURL() string                 { return s.Links.BaseURL }
func (s *Settings) GetVerifyPath() string              { return s.Links.VerifyPath }
func (s *Settings) GetAdminRedirect() string           { return s.Links.AdminRedirect }
func (s *Settings) GetUserRedirect() string            { return s.Links.UserRedirect }
func (s *Settings) GetLoginRedirect() string           { return s.Links.LoginRedirect }
func (s *Settings) GetOperationTimeout() time.Duration { return s.OperationTimeout }

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally backed by a .env file in the
// working directory. Vendor credentials are optional at boot: each operation
// checks what it needs and reports the missing variables by name.
type Config struct {
	App        AppConfig
	Store      StoreConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	ElevenLabs ElevenLabsConfig
	Poll       PollConfig
	Limits     LimitsConfig
}

type AppConfig struct {
	Env     string `env:"APP_ENV" validate:"required,oneof=local dev staging production"`
	Port    int    `env:"APP_PORT" validate:"min=1,max=65535"`
	LogFile string `env:"LOG_FILE"`
}

const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
	StoreNone      = "none"
)

type StoreConfig struct {
	Driver             string `env:"STORE_DRIVER" validate:"oneof=firestore postgres memory none"`
	FirestoreProjectID string `env:"FIRESTORE_PROJECT_ID"`
	CredentialsFile    string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	CredentialsJSON    string `env:"FIREBASE_CREDENTIALS_JSON"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" validate:"min=0,max=65535"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE"`
}

// RedisConfig is optional. When Host is empty the dial cap and webhook
// duplicate suppression are disabled.
type RedisConfig struct {
	Host string `env:"REDIS_HOST"`
	Port int    `env:"REDIS_PORT" validate:"min=0,max=65535"`
}

// AuthConfig is optional. When JWTSecret is empty the dashboard routes are
// served without bearer authentication.
type AuthConfig struct {
	JWTSecret       string        `env:"AUTH_JWT_SECRET"`
	JWTIssuer       string        `env:"AUTH_JWT_ISSUER"`
	JWTAudience     string        `env:"AUTH_JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TOKEN_TTL"`
}

type TwilioConfig struct {
	AccountSID        string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken         string `env:"TWILIO_AUTH_TOKEN"`
	Number            string `env:"TWILIO_NUMBER"`
	WebhookBaseURL    string `env:"TWILIO_WEBHOOK_BASE_URL"`
	ValidateSignature bool   `env:"TWILIO_VALIDATE_SIGNATURE"`
}

type ElevenLabsConfig struct {
	APIKey        string `env:"ELEVENLABS_API_KEY"`
	AgentID       string `env:"ELEVENLABS_AGENT_ID"`
	PhoneNumberID string `env:"ELEVENLABS_PHONE_NUMBER_ID"`
	BaseURL       string `env:"ELEVENLABS_BASE_URL" validate:"omitempty,url"`
	WebhookSecret string `env:"ELEVENLABS_WEBHOOK_SECRET"`
}

type PollConfig struct {
	Interval    time.Duration `env:"POLL_INTERVAL"`
	MaxDuration time.Duration `env:"POLL_MAX_DURATION"`
}

type LimitsConfig struct {
	// CallsRate uses the limiter format, e.g. "10-M" for ten per minute.
	CallsRate          string `env:"CALLS_RATE_LIMIT"`
	MaxConcurrentDials int    `env:"CALLS_MAX_CONCURRENT" validate:"min=0"`
}

// Load reads the process environment (and ./.env when present).
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read .env: %w", err)
		}
	}
	return LoadFrom(v)
}

// LoadFrom builds a Config from an already prepared viper instance.
func LoadFrom(v *viper.Viper) (Config, error) {
	setDefaults(v)

	c := Config{}
	r := &envReader{v: v}

	c.App.Env = str(v, "APP_ENV")
	c.App.Port = r.requiredInt("APP_PORT")
	c.App.LogFile = str(v, "LOG_FILE")

	c.Store.Driver = strings.ToLower(str(v, "STORE_DRIVER"))
	c.Store.FirestoreProjectID = str(v, "FIRESTORE_PROJECT_ID")
	c.Store.CredentialsFile = str(v, "GOOGLE_APPLICATION_CREDENTIALS")
	c.Store.CredentialsJSON = v.GetString("FIREBASE_CREDENTIALS_JSON")

	c.DB.Host = str(v, "DB_HOST")
	c.DB.Port = r.optionalInt("DB_PORT")
	c.DB.User = str(v, "DB_USER")
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = str(v, "DB_NAME")
	c.DB.SSLMode = str(v, "DB_SSLMODE")

	c.Redis.Host = str(v, "REDIS_HOST")
	c.Redis.Port = r.optionalInt("REDIS_PORT")

	c.Auth.JWTSecret = v.GetString("AUTH_JWT_SECRET")
	c.Auth.JWTIssuer = str(v, "AUTH_JWT_ISSUER")
	c.Auth.JWTAudience = str(v, "AUTH_JWT_AUDIENCE")
	c.Auth.AccessTokenTTL = r.duration("AUTH_ACCESS_TOKEN_TTL")
	c.Auth.RefreshTokenTTL = r.duration("AUTH_REFRESH_TOKEN_TTL")

	c.Twilio.AccountSID = str(v, "TWILIO_ACCOUNT_SID")
	c.Twilio.AuthToken = v.GetString("TWILIO_AUTH_TOKEN")
	c.Twilio.Number = str(v, "TWILIO_NUMBER")
	c.Twilio.WebhookBaseURL = strings.TrimRight(str(v, "TWILIO_WEBHOOK_BASE_URL"), "/")
	c.Twilio.ValidateSignature = v.GetBool("TWILIO_VALIDATE_SIGNATURE")

	c.ElevenLabs.APIKey = v.GetString("ELEVENLABS_API_KEY")
	c.ElevenLabs.AgentID = str(v, "ELEVENLABS_AGENT_ID")
	c.ElevenLabs.PhoneNumberID = str(v, "ELEVENLABS_PHONE_NUMBER_ID")
	c.ElevenLabs.BaseURL = strings.TrimRight(str(v, "ELEVENLABS_BASE_URL"), "/")
	c.ElevenLabs.WebhookSecret = v.GetString("ELEVENLABS_WEBHOOK_SECRET")

	c.Poll.Interval = r.duration("POLL_INTERVAL")
	c.Poll.MaxDuration = r.duration("POLL_MAX_DURATION")

	c.Limits.CallsRate = str(v, "CALLS_RATE_LIMIT")
	c.Limits.MaxConcurrentDials = r.optionalInt("CALLS_MAX_CONCURRENT")

	if err := joinErrors(r.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "local")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io")
	v.SetDefault("POLL_INTERVAL", "5s")
	v.SetDefault("POLL_MAX_DURATION", "30m")
	v.SetDefault("CALLS_RATE_LIMIT", "10-M")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	vd := validator.New()
	vd.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return vd
}

// Validate checks field formats and cross-field rules and fills defaults
// that depend on APP_ENV.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	switch c.Store.Driver {
	case StorePostgres:
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required when STORE_DRIVER=postgres"))
		}
		if c.DB.Port == 0 {
			c.DB.Port = 5432
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when STORE_DRIVER=postgres"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when STORE_DRIVER=postgres"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	case StoreFirestore:
		if c.Store.FirestoreProjectID == "" && c.Store.CredentialsFile == "" && c.Store.CredentialsJSON == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID or GOOGLE_APPLICATION_CREDENTIALS is required when STORE_DRIVER=firestore"))
		}
	}

	if c.Redis.Host != "" && c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Auth.JWTSecret != "" {
		if c.IsProduction() {
			if c.Auth.JWTIssuer == "" {
				errs = append(errs, errors.New("AUTH_JWT_ISSUER is required in production"))
			}
			if c.Auth.JWTAudience == "" {
				errs = append(errs, errors.New("AUTH_JWT_AUDIENCE is required in production"))
			}
		}
		if c.Auth.AccessTokenTTL <= 0 {
			c.Auth.AccessTokenTTL = 15 * time.Minute
		}
		if c.Auth.RefreshTokenTTL <= 0 {
			c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
		}
		if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
			errs = append(errs, errors.New("AUTH_REFRESH_TOKEN_TTL must be greater than AUTH_ACCESS_TOKEN_TTL"))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required in production"))
	}

	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set"))
	}

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 5 * time.Second
	}
	if c.Poll.MaxDuration > 0 && c.Poll.MaxDuration < c.Poll.Interval {
		errs = append(errs, errors.New("POLL_MAX_DURATION must be greater than POLL_INTERVAL"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// MissingForOutbound lists the variables that must be set before an outbound
// call can be placed.
func (e ElevenLabsConfig) MissingForOutbound() []string {
	var missing []string
	if e.APIKey == "" {
		missing = append(missing, "ELEVENLABS_API_KEY")
	}
	if e.AgentID == "" {
		missing = append(missing, "ELEVENLABS_AGENT_ID")
	}
	if e.PhoneNumberID == "" {
		missing = append(missing, "ELEVENLABS_PHONE_NUMBER_ID")
	}
	return missing
}

// MissingForAPI lists the variables the voice-agent read endpoints need.
func (e ElevenLabsConfig) MissingForAPI() []string {
	if e.APIKey == "" {
		return []string{"ELEVENLABS_API_KEY"}
	}
	return nil
}

// MissingForAPI lists the variables the telephony REST endpoints need.
func (t TwilioConfig) MissingForAPI() []string {
	var missing []string
	if t.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if t.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	return missing
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// envReader collects parse errors so Load reports every bad variable at once.
type envReader struct {
	v    *viper.Viper
	errs []error
}

func (r *envReader) requiredInt(key string) int {
	if str(r.v, key) == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	return r.optionalInt(key)
}

func (r *envReader) optionalInt(key string) int {
	s := str(r.v, key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, s))
		return 0
	}
	return n
}

func (r *envReader) duration(key string) time.Duration {
	s := str(r.v, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration like 5s or 30m, got %q", key, s))
		return 0
	}
	return d
}

func describeFieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of %s, got %q", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "), fmt.Sprint(fe.Value()))
	case "min", "max":
		return fmt.Errorf("%s is out of range, got %v", fe.Field(), fe.Value())
	case "url":
		return fmt.Errorf("%s must be a URL, got %q", fe.Field(), fmt.Sprint(fe.Value()))
	default:
		return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newTestViper(kv map[string]string) *viper.Viper {
	v := viper.New()
	for k, val := range kv {
		v.Set(k, val)
	}
	return v
}

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := LoadFrom(newTestViper(nil))
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if c.App.Env != "local" || c.App.Port != 8080 {
		t.Fatalf("unexpected app defaults: %+v", c.App)
	}
	if c.Store.Driver != StoreMemory {
		t.Fatalf("expected memory store by default, got %q", c.Store.Driver)
	}
	if c.Poll.Interval != 5*time.Second || c.Poll.MaxDuration != 30*time.Minute {
		t.Fatalf("unexpected poll defaults: %+v", c.Poll)
	}
	if c.RedisEnabled() {
		t.Fatalf("redis must be disabled without REDIS_HOST")
	}
}

func TestLoadFrom_ReportsEveryParseError(t *testing.T) {
	_, err := LoadFrom(newTestViper(map[string]string{
		"APP_PORT":      "eighty",
		"POLL_INTERVAL": "often",
	}))
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	for _, want := range []string{"APP_PORT", "POLL_INTERVAL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}

func TestValidate_RejectsUnknownEnvAndDriver(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "qa", Port: 8080},
		Store: StoreConfig{Driver: "mongo"},
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "APP_ENV") || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Fatalf("expected both variables named, got %v", err)
	}
}

func TestValidate_PostgresRequiresConnection(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		Store: StoreConfig{Driver: StorePostgres},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for postgres without DB_HOST")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		Store: StoreConfig{Driver: StorePostgres},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "auralis"},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "auralis", JWTAudience: "dashboard"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		Store: StoreConfig{Driver: StorePostgres},
		DB:    DBConfig{Host: "localhost", User: "postgres", Password: "x", Name: "auralis"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.DB.Port != 5432 {
		t.Fatalf("expected default port 5432, got %d", c.DB.Port)
	}
}

func TestValidate_ProductionRequiresAuth(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		Store: StoreConfig{Driver: StoreMemory},
	}
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTH_JWT_SECRET") {
		t.Fatalf("expected AUTH_JWT_SECRET error, got %v", err)
	}
}

func TestValidate_SignatureValidationNeedsToken(t *testing.T) {
	c := Config{
		App:    AppConfig{Env: "dev", Port: 8080},
		Store:  StoreConfig{Driver: StoreNone},
		Twilio: TwilioConfig{ValidateSignature: true},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected TWILIO_AUTH_TOKEN error")
	}
}

func TestMissingForOutbound(t *testing.T) {
	e := ElevenLabsConfig{AgentID: "agent_1"}
	got := e.MissingForOutbound()
	want := []string{"ELEVENLABS_API_KEY", "ELEVENLABS_PHONE_NUMBER_ID"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	e = ElevenLabsConfig{APIKey: "k", AgentID: "a", PhoneNumberID: "p"}
	if m := e.MissingForOutbound(); len(m) != 0 {
		t.Fatalf("expected nothing missing, got %v", m)
	}
}

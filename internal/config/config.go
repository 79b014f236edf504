// Package config loads BloodLink's runtime configuration.
//
// A .env file is loaded first (missing files are fine), then viper reads
// BLOODLINK_* environment variables, the un-prefixed provider keys
// (TWILIO_ACCOUNT_SID, DATABASE_URL, ...) and an optional config file.
// Command-line flags in main override the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultStateDir   = "/var/lib/bloodlink"
	DefaultDBFileName = "bloodlink.db"
	DefaultWADBName   = "whatsmeow.db"
	DefaultAddr       = ":8080"
	DefaultTransport  = TransportTwilio
	DefaultSweepCron  = "*/15 * * * *"
	DefaultSessionTTL = 24 * time.Hour
	DefaultWorkers    = 8
)

// Transports.
const (
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

// Config is the full runtime configuration.
type Config struct {
	Addr          string        `mapstructure:"addr"`
	StateDir      string        `mapstructure:"state_dir"`
	DBDSN         string        `mapstructure:"db_dsn"`
	RedisURL      string        `mapstructure:"redis_url"`
	Transport     string        `mapstructure:"transport"`
	Debug         bool          `mapstructure:"debug"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepCron     string        `mapstructure:"sweep_cron"`
	Workers       int           `mapstructure:"workers"`
	PublicBaseURL string        `mapstructure:"public_base_url"`

	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token"`
	TwilioFrom       string `mapstructure:"twilio_from_number"`

	WhatsAppDBDSN string `mapstructure:"whatsapp_db_dsn"`
	WhatsAppQR    string `mapstructure:"whatsapp_qr_output"`

	DojahAppID     string `mapstructure:"dojah_app_id"`
	DojahSecretKey string `mapstructure:"dojah_secret_key"`
	ZeehSecretKey  string `mapstructure:"zeeh_secret_key"`
	MockKYC        bool   `mapstructure:"mock_kyc"`

	OpenAIKey   string `mapstructure:"openai_api_key"`
	OpenAIModel string `mapstructure:"openai_model"`
}

// legacyKeys maps config keys to the un-prefixed variables providers document.
var legacyKeys = map[string]string{
	"db_dsn":             "DATABASE_URL",
	"redis_url":          "REDIS_URL",
	"twilio_account_sid": "TWILIO_ACCOUNT_SID",
	"twilio_auth_token":  "TWILIO_AUTH_TOKEN",
	"twilio_from_number": "TWILIO_FROM_NUMBER",
	"dojah_app_id":       "DOJAH_APP_ID",
	"dojah_secret_key":   "DOJAH_SECRET_KEY",
	"zeeh_secret_key":    "ZEEH_SECRET_KEY",
	"openai_api_key":     "OPENAI_API_KEY",
}

// Load reads .env files, the environment and, when configFile is not
// empty, a config file of any format viper understands.
func Load(configFile string, dotenvFiles ...string) (Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BLOODLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("transport", DefaultTransport)
	v.SetDefault("session_ttl", DefaultSessionTTL)
	v.SetDefault("sweep_cron", DefaultSweepCron)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("debug", false)
	v.SetDefault("mock_kyc", false)

	for _, key := range configKeys {
		envs := []string{"BLOODLINK_" + strings.ToUpper(key)}
		if legacy, ok := legacyKeys[key]; ok {
			envs = append(envs, legacy)
		}
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// ApplyDefaults derives values that depend on other settings. It is
// re-run by main after flags override the loaded values.
func (c *Config) ApplyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.DBDSN == "" {
		c.DBDSN = DefaultDBDSN(c.StateDir)
	}
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = DefaultWhatsAppDBDSN(c.StateDir)
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportTwilio, TransportWhatsmeow:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportTwilio, TransportWhatsmeow)
	}
	return nil
}

// DefaultDBDSN is the SQLite file used when no DSN is configured.
func DefaultDBDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultDBFileName)
}

// DefaultWhatsAppDBDSN is the whatsmeow device store; whatsmeow needs
// foreign keys enabled on SQLite.
func DefaultWhatsAppDBDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWADBName) + "?_foreign_keys=on"
}

// DocumentsDir is where uploaded verification media is written.
func (c Config) DocumentsDir() string {
	return filepath.Join(c.StateDir, "documents")
}

// configKeys lists the mapstructure keys of Config.
var configKeys = []string{
	"addr", "state_dir", "db_dsn", "redis_url", "transport", "debug", "session_ttl",
	"sweep_cron", "workers", "public_base_url",
	"twilio_account_sid", "twilio_auth_token", "twilio_from_number",
	"whatsapp_db_dsn", "whatsapp_qr_output",
	"dojah_app_id", "dojah_secret_key", "zeeh_secret_key", "mock_kyc",
	"openai_api_key", "openai_model",
}

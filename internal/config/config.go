package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
)

const (
	GateModeTolerant = "tolerant"
	GateModeExact    = "exact"
)

type Config struct {
	AppEnv  string
	AppAddr string

	// Secrets. All four are required.
	EmailUser     string
	EmailPass     string
	LoginUsername string
	LoginPassword string

	SMTPHost string
	SMTPPort int
	SMTPFrom string

	Timezone     string
	GateMode     string // tolerant | exact
	PollInterval time.Duration

	SessionTTL      time.Duration
	MonitorInterval time.Duration
	MonitorDir      string

	DefaultSubject  string
	DefaultBody     string
	DefaultSendTime string

	DatabaseURL string
	AMQPURL     string
	SecretsFile string
}

// secret keys as they appear in the TOML secrets file, mapped to their env var names.
var secretKeys = []struct {
	key string
	env string
}{
	{"email.email_user", "EMAIL_USER"},
	{"email.email_pass", "EMAIL_PASS"},
	{"login.login_username", "LOGIN_USERNAME"},
	{"login.login_password", "LOGIN_PASSWORD"},
}

// LoadDotEnv loads .env files into the process environment.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}

// Load reads configuration from the environment, falling back to the
// optional TOML secrets file for the four credentials.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	for _, s := range secretKeys {
		if err := v.BindEnv(s.key, s.env); err != nil {
			return Config{}, err
		}
	}

	c := Config{SecretsFile: v.GetString("secrets_file")}
	if c.SecretsFile != "" {
		if _, err := os.Stat(c.SecretsFile); err == nil {
			v.SetConfigFile(c.SecretsFile)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read secrets file %s: %w", c.SecretsFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat secrets file %s: %w", c.SecretsFile, err)
		}
	}

	c.AppEnv = v.GetString("app_env")
	c.AppAddr = v.GetString("app_addr")

	c.EmailUser = strings.TrimSpace(v.GetString("email.email_user"))
	c.EmailPass = v.GetString("email.email_pass")
	c.LoginUsername = strings.TrimSpace(v.GetString("login.login_username"))
	c.LoginPassword = v.GetString("login.login_password")

	c.SMTPHost = v.GetString("smtp_host")
	c.SMTPPort = v.GetInt("smtp_port")
	c.SMTPFrom = v.GetString("smtp_from")
	if c.SMTPFrom == "" {
		c.SMTPFrom = c.EmailUser
	}

	c.Timezone = v.GetString("timezone")
	c.GateMode = strings.ToLower(strings.TrimSpace(v.GetString("gate_mode")))
	if c.GateMode != GateModeExact {
		c.GateMode = GateModeTolerant
	}
	c.PollInterval = v.GetDuration("poll_interval")
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}

	c.SessionTTL = v.GetDuration("session_ttl")
	c.MonitorInterval = v.GetDuration("monitor_interval")
	c.MonitorDir = v.GetString("monitor_dir")
	if c.MonitorDir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.MonitorDir = wd
		}
	}

	c.DefaultSubject = v.GetString("default_subject")
	c.DefaultBody = v.GetString("default_body")
	c.DefaultSendTime = v.GetString("default_send_time")

	c.DatabaseURL = v.GetString("database_url")
	c.AMQPURL = v.GetString("amqp_url")

	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// StoreConfig is what the delivery-log tools need; they never touch SMTP or logins.
type StoreConfig struct {
	AppEnv      string
	DatabaseURL string
	AMQPURL     string
}

// LoadStore reads the delivery-log settings. DATABASE_URL is required.
func LoadStore() (StoreConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("app_env", "development")
	c := StoreConfig{
		AppEnv:      v.GetString("app_env"),
		DatabaseURL: v.GetString("database_url"),
		AMQPURL:     v.GetString("amqp_url"),
	}
	if c.DatabaseURL == "" {
		return c, appErrors.NewConfigMissing("DATABASE_URL")
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("app_addr", ":8080")
	v.SetDefault("smtp_host", "smtp.gmail.com")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("timezone", "Asia/Kolkata")
	v.SetDefault("gate_mode", GateModeTolerant)
	v.SetDefault("poll_interval", "10s")
	v.SetDefault("session_ttl", "12h")
	v.SetDefault("monitor_interval", "2s")
	v.SetDefault("default_subject", "QUIZ REMINDER")
	v.SetDefault("default_body", "It is your turn to update the quiz tomorrow :)")
	v.SetDefault("default_send_time", "21:00")
	v.SetDefault("secrets_file", "secrets.toml")
}

func (c Config) validate() error {
	var missing []string
	if c.EmailUser == "" {
		missing = append(missing, "EMAIL_USER")
	}
	if c.EmailPass == "" {
		missing = append(missing, "EMAIL_PASS")
	}
	if c.LoginUsername == "" {
		missing = append(missing, "LOGIN_USERNAME")
	}
	if c.LoginPassword == "" {
		missing = append(missing, "LOGIN_PASSWORD")
	}
	if len(missing) > 0 {
		return appErrors.NewConfigMissing(missing...)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the timezone the send gate compares against.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) String() string {
	return fmt.Sprintf("env=%s addr=%s smtp=%s:%d tz=%s gate=%s db=%t amqp=%t",
		c.AppEnv, c.AppAddr, c.SMTPHost, c.SMTPPort, c.Timezone, c.GateMode, c.DatabaseURL != "", c.AMQPURL != "")
}

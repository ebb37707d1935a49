package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds all runtime configuration. Values come from an optional
// northpole.yaml file, overridden by NORTHPOLE_* environment variables
// (e.g. NORTHPOLE_MAIL_SMTP_HOST).
type Settings struct {
	DatabasePath string `mapstructure:"database_path"`
	LogMode      string `mapstructure:"log_mode"`
	ListenAddr   string `mapstructure:"listen_addr"`

	PollInterval   time.Duration `mapstructure:"poll_interval"`
	FetchInterval  time.Duration `mapstructure:"fetch_interval"`
	LeaseDuration  time.Duration `mapstructure:"lease_duration"`
	JobMaxAttempts int           `mapstructure:"job_max_attempts"`

	OpenAI OpenAISettings `mapstructure:"openai"`
	Mail   MailSettings   `mapstructure:"mail"`
}

type OpenAISettings struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	SafetyModel string `mapstructure:"safety_model"`

	// SafetyCheckEnabled gates every outbound email behind a second,
	// independent classifier pass.
	SafetyCheckEnabled bool `mapstructure:"safety_check_enabled"`
}

type MailSettings struct {
	POP3Host     string `mapstructure:"pop3_host"`
	POP3Port     int    `mapstructure:"pop3_port"`
	POP3UseSSL   bool   `mapstructure:"pop3_use_ssl"`
	POP3Username string `mapstructure:"pop3_username"`
	POP3Password string `mapstructure:"pop3_password"`

	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`

	SantaAddress string `mapstructure:"santa_address"`
	SantaName    string `mapstructure:"santa_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "northpole.db")
	v.SetDefault("log_mode", "dev")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("fetch_interval", 60*time.Second)
	v.SetDefault("lease_duration", 5*time.Minute)
	v.SetDefault("job_max_attempts", 3)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.safety_model", "gpt-4o-mini")
	v.SetDefault("openai.safety_check_enabled", true)
	v.SetDefault("mail.pop3_port", 995)
	v.SetDefault("mail.pop3_use_ssl", true)
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.santa_name", "Santa Claus")
}

// Load reads configuration from file and environment.
func Load() (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("northpole")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/northpole")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	v.SetEnvPrefix("NORTHPOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	cfg := &Settings{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvKeys makes AutomaticEnv see nested keys that are absent from the
// config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"database_path", "log_mode", "listen_addr",
		"poll_interval", "fetch_interval", "lease_duration", "job_max_attempts",
		"openai.api_key", "openai.base_url", "openai.model",
		"openai.safety_model", "openai.safety_check_enabled",
		"mail.pop3_host", "mail.pop3_port", "mail.pop3_use_ssl",
		"mail.pop3_username", "mail.pop3_password",
		"mail.smtp_host", "mail.smtp_port",
		"mail.smtp_username", "mail.smtp_password",
		"mail.santa_address", "mail.santa_name",
	} {
		_ = v.BindEnv(key)
	}
}

func (s *Settings) Validate() error {
	if s.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	if s.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if s.FetchInterval <= 0 {
		return errors.New("fetch_interval must be positive")
	}
	if s.JobMaxAttempts < 1 {
		return errors.New("job_max_attempts must be at least 1")
	}
	return nil
}

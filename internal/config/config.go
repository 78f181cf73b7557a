// Package config loads gmailer settings from a YAML file, GMAILER_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joshsymonds/gmailer/internal/mailbox"
)

const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"

	envPrefix = "GMAILER"
)

type GmailConfig struct {
	Credentials string `mapstructure:"credentials"`
	Token       string `mapstructure:"token"`
}

type IMAPConfig struct {
	Server   string `mapstructure:"server"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// PasswordKeyring names a keyring entry holding the password.
	PasswordKeyring string `mapstructure:"password_keyring"`
	Mailbox         string `mapstructure:"mailbox"`
	Archive         string `mapstructure:"archive"`
	// TLS is "tls" (implicit) or "starttls".
	TLS string `mapstructure:"tls"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// HistoryConfig locates the run history database. An empty DB disables it.
type HistoryConfig struct {
	DB string `mapstructure:"db"`
}

// Config is the resolved configuration for one invocation.
type Config struct {
	Provider string        `mapstructure:"provider"`
	Gmail    GmailConfig   `mapstructure:"gmail"`
	IMAP     IMAPConfig    `mapstructure:"imap"`
	Log      LogConfig     `mapstructure:"log"`
	HTTP     HTTPConfig    `mapstructure:"http"`
	History  HistoryConfig `mapstructure:"history"`
	RPS      int           `mapstructure:"rps"`
	DryRun   bool          `mapstructure:"dry_run"`
}

// Dir returns ~/.config/gmailer, or "." when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "gmailer")
}

// DefaultConfigPath returns ~/.config/gmailer/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	dir := Dir()
	v.SetDefault("provider", ProviderGmail)
	v.SetDefault("gmail.credentials", filepath.Join(dir, "credentials.json"))
	v.SetDefault("gmail.token", filepath.Join(dir, "token.json"))
	v.SetDefault("imap.server", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.password_keyring", "")
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.archive", "Archive")
	v.SetDefault("imap.tls", "tls")
	v.SetDefault("log.file", filepath.Join(dir, "gmailer.log"))
	v.SetDefault("log.level", "info")
	v.SetDefault("rps", 5)
	v.SetDefault("dry_run", false)
	v.SetDefault("http.addr", "127.0.0.1:8080")
	v.SetDefault("history.db", filepath.Join(dir, "history.db"))
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"provider":   "provider",
	"dry-run":    "dry_run",
	"rps":        "rps",
	"log-file":   "log.file",
	"addr":       "http.addr",
	"history-db": "history.db",
}

// Load reads path (a missing file yields defaults), applies GMAILER_*
// environment overrides, then any changed flags in flags. A malformed
// file is a config error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, mailbox.ConfigError("read config "+path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, mailbox.ConfigError("bind flag "+name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, mailbox.ConfigError("decode config "+path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that do not depend on the chosen command.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGmail, ProviderIMAP:
	default:
		return mailbox.ConfigError("validate config", fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.RPS < 0 {
		return mailbox.ConfigError("validate config", fmt.Errorf("rps must be >= 0, got %d", c.RPS))
	}
	switch strings.ToLower(c.IMAP.TLS) {
	case "tls", "starttls":
	default:
		return mailbox.ConfigError("validate config", fmt.Errorf("imap.tls must be tls or starttls, got %q", c.IMAP.TLS))
	}
	return nil
}

// RequireIMAP reports missing IMAP connection settings.
func (c *Config) RequireIMAP() error {
	if c.IMAP.Server == "" {
		return mailbox.ConfigError("validate config", errors.New("imap.server is required"))
	}
	if c.IMAP.Username == "" {
		return mailbox.ConfigError("validate config", errors.New("imap.username is required"))
	}
	return nil
}

// Copyright 2024-2026 Aiku AI

package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every configuration loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// Default per-account settings applied when the config file leaves them out.
const (
	DefaultDateTimeFormat = "2006-01-02 15:04:05"
	DefaultDateTimeLocale = "en_US"

	DefaultPostTemplate      = "{{account.display_name}}:<br>{{content}}"
	DefaultReplyTemplate     = "{{account.display_name}} replied:<br>{{content}}"
	DefaultBoostTemplate     = "{{account.display_name}} boosted {{reblog.account.display_name}}:<br>{{reblog.content}}"
	DefaultMentionTemplate   = "{{account.acct}} mentioned you:<br>{{status.content}}"
	DefaultFavouriteTemplate = "{{account.acct}} favourited your status"
	DefaultFollowTemplate    = "{{account.acct}} is now following you"
)

// Config is the full bridge configuration: process-level settings plus one
// entry per bridged account.
type Config struct {
	Homeserver HomeserverConfig `mapstructure:"homeserver"`
	Appservice AppserviceConfig `mapstructure:"appservice"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Accounts   []AccountConfig  `mapstructure:"accounts" validate:"required,min=1,dive"`
}

type HomeserverConfig struct {
	Address string `mapstructure:"address" validate:"required,url"`
	Domain  string `mapstructure:"domain" validate:"required"`
}

type AppserviceConfig struct {
	// ListenAddr is where the transaction intake HTTP server listens.
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
	// RegistrationPath points at the appservice registration YAML shared
	// with the homeserver.
	RegistrationPath string `mapstructure:"registration_path" validate:"required"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
	// TransactionRetention prunes processed transaction records older than
	// this age. Zero disables pruning; records are then kept forever.
	TransactionRetention time.Duration `mapstructure:"transaction_retention"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
}

// AccountConfig holds the immutable per-bot settings. Loaded once at bot
// creation and never mutated by the core.
type AccountConfig struct {
	ID string `mapstructure:"id" validate:"required"`

	// MatrixUserID and MatrixAccessToken identify the Matrix bot user this
	// account posts as. The token is assumed already provisioned.
	MatrixUserID      string `mapstructure:"matrix_user_id" validate:"required"`
	MatrixAccessToken string `mapstructure:"matrix_access_token" validate:"required"`

	Mastodon MastodonConfig `mapstructure:"mastodon"`

	Templates TemplateConfig `mapstructure:"templates"`

	DateTimeFormat string `mapstructure:"datetime_format" validate:"required"`
	DateTimeLocale string `mapstructure:"datetime_locale" validate:"required"`

	// FetchMissingContent enables best-effort lookups of the parent status
	// and account when rendering replies.
	FetchMissingContent bool `mapstructure:"fetch_missing_content"`
}

type MastodonConfig struct {
	Server       string `mapstructure:"server" validate:"required,url"`
	ClientID     string `mapstructure:"client_id" validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`
	AccessToken  string `mapstructure:"access_token" validate:"required"`
}

// TemplateConfig holds one mustache template string per event kind.
type TemplateConfig struct {
	Post      string `mapstructure:"post" validate:"required"`
	Reply     string `mapstructure:"reply" validate:"required"`
	Boost     string `mapstructure:"boost" validate:"required"`
	Mention   string `mapstructure:"mention" validate:"required"`
	Favourite string `mapstructure:"favourite" validate:"required"`
	Follow    string `mapstructure:"follow" validate:"required"`
}

// LoadConfig loads configuration from defaults, then config.yaml in the
// given directory (or the working directory when empty), then
// MASTODON_BRIDGE_* environment variables, and validates the result.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MASTODON_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: reading config file: %v", ErrConfiguration, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %v", ErrConfiguration, err)
	}

	cfg.applyAccountDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("appservice.listen_addr", ":29340")
	v.SetDefault("appservice.registration_path", "registration.yaml")
	v.SetDefault("database.path", "mautrix-mastodon.db")
	v.SetDefault("database.transaction_retention", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// applyAccountDefaults fills in the six template strings and the date/time
// settings for accounts that leave them empty. Viper defaults cannot reach
// into list entries, so this runs after unmarshalling.
func (c *Config) applyAccountDefaults() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.DateTimeFormat == "" {
			a.DateTimeFormat = DefaultDateTimeFormat
		}
		if a.DateTimeLocale == "" {
			a.DateTimeLocale = DefaultDateTimeLocale
		}
		t := &a.Templates
		if t.Post == "" {
			t.Post = DefaultPostTemplate
		}
		if t.Reply == "" {
			t.Reply = DefaultReplyTemplate
		}
		if t.Boost == "" {
			t.Boost = DefaultBoostTemplate
		}
		if t.Mention == "" {
			t.Mention = DefaultMentionTemplate
		}
		if t.Favourite == "" {
			t.Favourite = DefaultFavouriteTemplate
		}
		if t.Follow == "" {
			t.Follow = DefaultFollowTemplate
		}
	}
}

// Validate checks the configuration against its struct tags and rejects
// duplicate account ids.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: duplicate account id %q", ErrConfiguration, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// Template returns the configured template string for the given kind.
// KindReblog shares the boost template: a reblog notification and a boosted
// status render the same way.
func (t *TemplateConfig) Template(kind EventKind) (string, error) {
	switch kind {
	case KindPost:
		return t.Post, nil
	case KindReply:
		return t.Reply, nil
	case KindBoost, KindReblog:
		return t.Boost, nil
	case KindMention:
		return t.Mention, nil
	case KindFavourite:
		return t.Favourite, nil
	case KindFollow:
		return t.Follow, nil
	default:
		return "", fmt.Errorf("no template for event kind %s", kind)
	}
}

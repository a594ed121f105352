package settings

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Settings is the engine's explicit configuration. Nothing here is a global
// singleton: the engine and its collaborators take a Settings value (or the
// relevant slice of it) as a constructor dependency.
type Settings struct {
	// Model is the provider model identifier sent in every request.
	Model string `mapstructure:"model"`
	// BaseURL points at an OpenAI-compatible completions API.
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`

	// RequestTimeout bounds one completion round-trip. A timeout is treated
	// as a connectivity-class failure, recoverable via regenerate.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// FreeMessages is the quota gate threshold: user turns allowed across
	// all conversations without an unlimited entitlement.
	FreeMessages int `mapstructure:"free_messages"`

	// DatabasePath locates the sqlite store; empty selects the in-memory
	// backend.
	DatabasePath string `mapstructure:"database_path"`

	// Unlimited stands in for the purchase collaborator's entitlement
	// predicate when running outside the desktop shell.
	Unlimited bool `mapstructure:"unlimited"`
}

func Default() *Settings {
	return &Settings{
		Model:          "gpt-4o-mini",
		BaseURL:        "https://api.openai.com/v1",
		RequestTimeout: 60 * time.Second,
		FreeMessages:   100,
	}
}

// Load reads settings from the given config file (optional) and from
// PRATTLE_* environment variables, on top of defaults.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("prattle")
	v.AutomaticEnv()

	// Every key needs a default registered, or viper's Unmarshal will not
	// see values that arrive only through the environment.
	defaults := Default()
	v.SetDefault("model", defaults.Model)
	v.SetDefault("base_url", defaults.BaseURL)
	v.SetDefault("api_key", "")
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("free_messages", defaults.FreeMessages)
	v.SetDefault("database_path", "")
	v.SetDefault("unlimited", false)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
	}

	ret := &Settings{}
	if err := v.Unmarshal(ret); err != nil {
		return nil, errors.Wrap(err, "unmarshal settings")
	}
	return ret, nil
}

// Validate checks the fields the engine cannot run without.
func (s *Settings) Validate() error {
	if s.Model == "" {
		return errors.New("model is required")
	}
	if s.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if s.APIKey == "" {
		return errors.New("api_key is required")
	}
	if s.FreeMessages <= 0 {
		return errors.New("free_messages must be positive")
	}
	return nil
}

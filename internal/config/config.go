// Package config loads smartcal.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultFilename = "smartcal.toml"

// Duration reads TOML strings such as "30s" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Database    Database            `toml:"database"`
	Log         Log                 `toml:"log"`
	Parser      Parser              `toml:"parser"`
	Providers   map[string]Provider `toml:"providers"`
	Vault       Vault               `toml:"vault"`
	TimeTree    TimeTree            `toml:"timetree"`
	Google      Google              `toml:"google"`
	CalDAV      map[string]CalDAV   `toml:"caldav"`
	Maintenance Maintenance         `toml:"maintenance"`
}

type Database struct {
	Path string `toml:"path"`
}

type Log struct {
	Verbose bool   `toml:"verbose"`
	Prefix  string `toml:"prefix"`
}

type Parser struct {
	MaxInputLength int      `toml:"max_input_length"`
	MaxRetries     int      `toml:"max_retries"`
	MinConfidence  float64  `toml:"min_confidence"`
	CacheTTL       Duration `toml:"cache_ttl"`
	Timeout        Duration `toml:"timeout"`
	CallsPerMinute int      `toml:"calls_per_minute"`
	Timezone       string   `toml:"timezone"`
	// Providers is the fallback order, by provider name.
	Providers  []string `toml:"providers"`
	PromptPack string   `toml:"prompt_pack"`
}

type Provider struct {
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

type Vault struct {
	Key           string   `toml:"key"`
	Cipher        string   `toml:"cipher"`
	RefreshWindow Duration `toml:"refresh_window"`
}

type TimeTree struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURL  string   `toml:"redirect_url"`
	BaseURL      string   `toml:"base_url"`
	Timeout      Duration `toml:"timeout"`
}

func (t TimeTree) Enabled() bool {
	return t.ClientID != ""
}

type Google struct {
	CredentialsFile string `toml:"credentials_file"`
}

func (g Google) Enabled() bool {
	return g.CredentialsFile != ""
}

type CalDAV struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	HomeSet  string `toml:"home_set"`
}

type Maintenance struct {
	// Schedules use cron syntax with a leading seconds field.
	PurgeCache         string `toml:"purge_cache"`
	RefreshCredentials string `toml:"refresh_credentials"`
}

// Load reads filename, applies the environment and fills in defaults.
// A missing file is not an error.
func Load(filename string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(filename, &cfg)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: %v", err)
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.Normalize()
	return &cfg, nil
}

// Parse decodes a TOML document without touching the environment.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %v", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// ApplyEnv lets secrets come from the environment. Set variables win over the file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Vault.Key, "SMARTCAL_VAULT_KEY")
	set(&c.Database.Path, "SMARTCAL_DATABASE")
	set(&c.TimeTree.ClientID, "TIMETREE_CLIENT_ID")
	set(&c.TimeTree.ClientSecret, "TIMETREE_CLIENT_SECRET")

	for name, key := range map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
	} {
		v := getenv(key)
		if v == "" {
			continue
		}
		if c.Providers == nil {
			c.Providers = make(map[string]Provider)
		}
		p := c.Providers[name]
		p.APIKey = v
		c.Providers[name] = p
	}
}

// Normalize fills every unset value with its default.
func (c *Config) Normalize() {
	if c.Database.Path == "" {
		c.Database.Path = "smartcal.db"
	}
	if c.Parser.MaxInputLength <= 0 {
		c.Parser.MaxInputLength = 1000
	}
	if c.Parser.MaxRetries == 0 {
		c.Parser.MaxRetries = 2
	}
	if c.Parser.MinConfidence <= 0 {
		c.Parser.MinConfidence = 0.3
	}
	if c.Parser.CacheTTL.Duration <= 0 {
		c.Parser.CacheTTL.Duration = 24 * time.Hour
	}
	if c.Parser.Timeout.Duration <= 0 {
		c.Parser.Timeout.Duration = 30 * time.Second
	}
	if c.Parser.CallsPerMinute == 0 {
		c.Parser.CallsPerMinute = 60
	}
	if c.Parser.Timezone == "" {
		c.Parser.Timezone = "Asia/Seoul"
	}
	if len(c.Parser.Providers) == 0 {
		c.Parser.Providers = []string{"openai", "anthropic"}
	}
	if c.Vault.Cipher == "" {
		c.Vault.Cipher = "xchacha20poly1305"
	}
	if c.Vault.RefreshWindow.Duration <= 0 {
		c.Vault.RefreshWindow.Duration = 5 * time.Minute
	}
	if c.TimeTree.Timeout.Duration <= 0 {
		c.TimeTree.Timeout.Duration = 10 * time.Second
	}
	if c.Maintenance.PurgeCache == "" {
		c.Maintenance.PurgeCache = "0 0 * * * *"
	}
	if c.Maintenance.RefreshCredentials == "" {
		c.Maintenance.RefreshCredentials = "0 */5 * * * *"
	}
}

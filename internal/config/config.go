// Package config loads the broker configuration from a YAML file with
// environment-variable overrides. Secrets (client secrets, signing keys)
// are expected via env in production; the YAML values exist for dev.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Platform identifiers accepted by the broker. Provider adapters register
// under these names and config blocks use them as keys.
const (
	PlatformYouTube   = "youtube"
	PlatformInstagram = "instagram"
	PlatformTikTok    = "tiktok"
	PlatformTwitch    = "twitch"
	PlatformFacebook  = "facebook"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []string{
	PlatformYouTube,
	PlatformInstagram,
	PlatformTikTok,
	PlatformTwitch,
	PlatformFacebook,
}

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// PublicBaseURL is the externally reachable base used to build
		// OAuth redirect URIs. Must match what is registered with each
		// provider, byte for byte.
		PublicBaseURL string `yaml:"public_base_url"`
		// Where the browser lands after a callback, with ?error=<code>
		// appended on failure.
		ConnectSuccessURL string `yaml:"connect_success_url"`
		ConnectErrorURL   string `yaml:"connect_error_url"`
	} `yaml:"server"`

	Auth struct {
		// StateSecret signs the short-lived OAuth state tokens.
		StateSecret string `yaml:"state_secret"`
		StateTTL    string `yaml:"state_ttl"`
		// APISecret verifies bearer tokens on authenticated endpoints.
		APISecret string `yaml:"api_secret"`
	} `yaml:"auth"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		// InsightsTTL bounds how long a canonical metrics result is served
		// from cache before the providers are asked again.
		InsightsTTL string `yaml:"insights_ttl"`
	} `yaml:"cache"`

	Rate struct {
		Enabled     bool   `yaml:"enabled"`
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`
	} `yaml:"rate"`

	Demo struct {
		// TokenPrefix marks synthetic accounts: any stored access token
		// starting with it short-circuits the pipeline to generated data.
		TokenPrefix string `yaml:"token_prefix"`
	} `yaml:"demo"`

	// Providers holds one credentials block per platform. A platform with
	// no block (or an empty client id) is treated as not configured.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig is the externally supplied OAuth client configuration for
// one platform.
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	// RedirectURI overrides the default <public_base_url>/v1/connect/<platform>/callback.
	RedirectURI string `yaml:"redirect_uri"`
}

// Load reads the YAML file at path (optional) and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setIfEnv(&c.App.Env, "APP_ENV")
	setIfEnv(&c.Server.Addr, "SERVER_ADDR")
	setIfEnv(&c.Server.PublicBaseURL, "PUBLIC_BASE_URL")
	setIfEnv(&c.Auth.StateSecret, "STATE_SECRET")
	setIfEnv(&c.Auth.APISecret, "API_SECRET")
	setIfEnv(&c.Storage.Driver, "STORAGE_DRIVER")
	setIfEnv(&c.Storage.DSN, "DATABASE_URL")
	setIfEnv(&c.Cache.Kind, "CACHE_KIND")
	setIfEnv(&c.Cache.Redis.Addr, "REDIS_ADDR")

	// Per-platform credentials: YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET...
	for _, p := range Platforms {
		up := strings.ToUpper(p)
		pc := c.Providers[p]
		setIfEnv(&pc.ClientID, up+"_CLIENT_ID")
		setIfEnv(&pc.ClientSecret, up+"_CLIENT_SECRET")
		if pc.ClientID != "" || pc.ClientSecret != "" {
			if c.Providers == nil {
				c.Providers = map[string]ProviderConfig{}
			}
			c.Providers[p] = pc
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Demo.TokenPrefix == "" {
		c.Demo.TokenPrefix = "demo-"
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 60
	}
}

// StateTTL returns the state token lifetime, default 10 minutes.
func (c *Config) StateTTL() time.Duration {
	return dur(c.Auth.StateTTL, 10*time.Minute)
}

// InsightsTTL returns the metrics cache lifetime, default 5 minutes.
func (c *Config) InsightsTTL() time.Duration {
	return dur(c.Cache.InsightsTTL, 5*time.Minute)
}

// RateWindow returns the rate limiter window.
func (c *Config) RateWindow() time.Duration {
	return dur(c.Rate.Window, time.Minute)
}

// Provider returns the credentials block for a platform and whether one is
// configured at all.
func (c *Config) Provider(platform string) (ProviderConfig, bool) {
	pc, ok := c.Providers[strings.ToLower(platform)]
	if !ok || pc.ClientID == "" {
		return ProviderConfig{}, false
	}
	return pc, true
}

// RedirectURI resolves the redirect URI for a platform. The same value must
// be used in the authorization URL and the code exchange.
func (c *Config) RedirectURI(platform string) string {
	if pc, ok := c.Providers[platform]; ok && pc.RedirectURI != "" {
		return pc.RedirectURI
	}
	return strings.TrimRight(c.Server.PublicBaseURL, "/") + "/v1/connect/" + platform + "/callback"
}

func setIfEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func dur(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

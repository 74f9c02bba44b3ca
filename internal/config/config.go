package config

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/monastery360/offline-proxy/internal/fallback"
)

// EnvPrefix prefixes the environment variables overriding the file
const EnvPrefix = "OFFLINE_PROXY_"

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	App           AppConfig           `koanf:"app"`
	Cache         CacheConfig         `koanf:"cache"`
	Strategy      StrategyConfig      `koanf:"strategy"`
	Manifest      ManifestConfig      `koanf:"manifest"`
	Fallback      FallbackConfig      `koanf:"fallback"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Log           LogConfig           `koanf:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        int         `koanf:"port" env:"PORT"`
	ControlPort int         `koanf:"control_port" env:"CONTROL_PORT"`
	HTTPS       HTTPSConfig `koanf:"https"`
}

// HTTPSConfig controls TLS interception
type HTTPSConfig struct {
	Enabled         bool   `koanf:"enabled"`
	CACertFile      string `koanf:"ca_cert_file"`
	CAKeyFile       string `koanf:"ca_key_file"`
	TransparentAddr string `koanf:"transparent_addr"`
}

// AppConfig identifies the client application and its deployed version
type AppConfig struct {
	// Name prefixes every store
	Name    string `koanf:"name"`
	Version string `koanf:"version" env:"APP_VERSION"`
	// Origin resolves relative manifest entries
	Origin      string `koanf:"origin" env:"APP_ORIGIN"`
	SkipWaiting bool   `koanf:"skip_waiting"`
}

// CacheConfig selects the store backend
type CacheConfig struct {
	Backend string `koanf:"backend" env:"CACHE_BACKEND"` // "memory", "leveldb" or "sqlite"
	Folder  string `koanf:"folder" env:"CACHE_FOLDER"`
}

// StrategyConfig contains request handling configuration
type StrategyConfig struct {
	APIPath           string `koanf:"api_path"`
	NetworkTimeout    string `koanf:"network_timeout"`
	UpstreamTimeout   string `koanf:"upstream_timeout"`
	BackgroundWorkers int    `koanf:"background_workers"`
}

// ManifestConfig lists the assets precached at install time
type ManifestConfig struct {
	Assets []string `koanf:"assets"`
	// File is an optional YAML list appended to Assets
	File string `koanf:"file"`
}

// FallbackConfig holds the texts of synthesized responses
type FallbackConfig struct {
	OfflineMessage     string `koanf:"offline_message"`
	AssetUnavailable   string `koanf:"asset_unavailable"`
	ServiceUnavailable string `koanf:"service_unavailable"`
	ImageText          string `koanf:"image_text"`
	ImageWidth         int    `koanf:"image_width"`
	ImageHeight        int    `koanf:"image_height"`
	PageTitle          string `koanf:"page_title"`
	PageHeading        string `koanf:"page_heading"`
	PageMessage        string `koanf:"page_message"`
	PageHint           string `koanf:"page_hint"`
	RetryLabel         string `koanf:"retry_label"`
	// PageTemplate is an optional html/template file for the offline page
	PageTemplate string `koanf:"page_template"`
}

// NotificationsConfig decorates notifications shown for push messages
type NotificationsConfig struct {
	Icon     string `koanf:"icon"`
	Badge    string `koanf:"badge"`
	Tag      string `koanf:"tag"`
	Renotify bool   `koanf:"renotify"`
	// Root is opened when a notification is clicked
	Root string `koanf:"root"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `koanf:"level" env:"LOG_LEVEL"`
	Format string `koanf:"format" env:"LOG_FORMAT"` // "text" or "json"
}

// Default returns the configuration used for every unset key
func Default() Config {
	texts := fallback.DefaultTexts()
	return Config{
		Server: ServerConfig{Port: 8080, ControlPort: 8081},
		App: AppConfig{
			Name:        "monastery360",
			Version:     "v1.2.0",
			Origin:      "http://127.0.0.1:5000",
			SkipWaiting: true,
		},
		Cache: CacheConfig{Backend: "memory", Folder: "./data/cache"},
		Strategy: StrategyConfig{
			APIPath:           "/predict",
			NetworkTimeout:    "3s",
			UpstreamTimeout:   "30s",
			BackgroundWorkers: 32,
		},
		Fallback: FallbackConfig{
			OfflineMessage:     texts.OfflineMessage,
			AssetUnavailable:   texts.AssetUnavailable,
			ServiceUnavailable: texts.ServiceUnavailable,
			ImageText:          texts.ImageText,
			ImageWidth:         texts.ImageWidth,
			ImageHeight:        texts.ImageHeight,
			PageTitle:          texts.PageTitle,
			PageHeading:        texts.PageHeading,
			PageMessage:        texts.PageMessage,
			PageHint:           texts.PageHint,
			RetryLabel:         texts.RetryLabel,
		},
		Notifications: NotificationsConfig{
			Icon:     "/assets/images/chatbox-icon.svg",
			Badge:    "/assets/images/chatbox-icon.svg",
			Tag:      "monastery-notification",
			Renotify: true,
			Root:     "/",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load loads configuration from a YAML file on top of the defaults, then
// applies OFFLINE_PROXY_* environment overrides
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if config.Manifest.File != "" {
		assets, err := LoadManifestFile(config.Manifest.File)
		if err != nil {
			return nil, err
		}
		config.Manifest.Assets = append(config.Manifest.Assets, assets...)
	}

	return &config, nil
}

// LoadManifestFile reads a YAML list of asset URLs
func LoadManifestFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}
	var assets []string
	if err := yamlv3.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("parsing manifest YAML: %w", err)
	}
	return assets, nil
}

// GetNetworkTimeout parses the API race timeout
func (c *Config) GetNetworkTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Strategy.NetworkTimeout)
}

// GetUpstreamTimeout parses the bound of every upstream fetch
func (c *Config) GetUpstreamTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Strategy.UpstreamTimeout)
}

// GetOrigin parses the application origin
func (c *Config) GetOrigin() (*url.URL, error) {
	u, err := url.Parse(c.App.Origin)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", c.App.Origin)
	}
	return u, nil
}

// Texts converts the fallback section
func (c *Config) Texts() fallback.Texts {
	f := c.Fallback
	return fallback.Texts{
		OfflineMessage:     f.OfflineMessage,
		AssetUnavailable:   f.AssetUnavailable,
		ServiceUnavailable: f.ServiceUnavailable,
		ImageText:          f.ImageText,
		ImageWidth:         f.ImageWidth,
		ImageHeight:        f.ImageHeight,
		PageTitle:          f.PageTitle,
		PageHeading:        f.PageHeading,
		PageMessage:        f.PageMessage,
		PageHint:           f.PageHint,
		RetryLabel:         f.RetryLabel,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.ControlPort < 0 || c.Server.ControlPort > 65535 {
		return fmt.Errorf("invalid control port: %d", c.Server.ControlPort)
	}

	if c.Server.ControlPort != 0 && c.Server.ControlPort == c.Server.Port {
		return fmt.Errorf("control port must differ from proxy port %d", c.Server.Port)
	}

	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.App.Version == "" {
		return fmt.Errorf("app version is required")
	}

	if _, err := c.GetOrigin(); err != nil {
		return fmt.Errorf("invalid app origin: %w", err)
	}

	switch c.Cache.Backend {
	case "memory", "leveldb", "sqlite":
	default:
		return fmt.Errorf("cache backend must be 'memory', 'leveldb' or 'sqlite', got: %s", c.Cache.Backend)
	}

	if c.Cache.Backend != "memory" && c.Cache.Folder == "" {
		return fmt.Errorf("cache folder is required")
	}

	if _, err := path.Match(c.Strategy.APIPath, "/"); err != nil {
		return fmt.Errorf("invalid api path pattern: %w", err)
	}

	if d, err := c.GetNetworkTimeout(); err != nil {
		return fmt.Errorf("invalid network timeout format: %w", err)
	} else if d <= 0 {
		return fmt.Errorf("network timeout must be positive")
	}

	if _, err := c.GetUpstreamTimeout(); err != nil {
		return fmt.Errorf("invalid upstream timeout format: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}

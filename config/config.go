// Package config loads and validates the application configuration: API
// credentials, the model roster, system behavior, and the MCP server
// instances. A missing file is replaced with a documented default, and
// credentials from the environment override file values.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	"github.com/toolbridge-ai/toolbridge/connections"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge", "config")

// ErrInvalidConfig reports a configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultTimeoutSeconds is the provider HTTP timeout when unset.
const DefaultTimeoutSeconds = 60

// API holds vendor credentials and an optional endpoint override.
type API struct {
	OpenAIAPIKey    string `json:"openai_api_key" yaml:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key" yaml:"anthropic_api_key"`
	GoogleAPIKey    string `json:"google_api_key" yaml:"google_api_key"`
	BaseURL         string `json:"base_url" yaml:"base_url"`
}

// Models lists the selectable models.
type Models struct {
	Available []string `json:"available" yaml:"available" validate:"required,min=1"`
	Selected  string   `json:"selected" yaml:"selected" validate:"required"`
}

// System holds query behavior settings.
type System struct {
	Message             string   `json:"message" yaml:"message"`
	Debug               bool     `json:"debug" yaml:"debug"`
	Timeout             int      `json:"timeout" yaml:"timeout" validate:"gte=0"`
	AutoServerSelection bool     `json:"auto_server_selection" yaml:"auto_server_selection"`
	PreloadServers      []string `json:"preload_servers" yaml:"preload_servers"`
}

// Servers holds the tool server roster.
type Servers struct {
	Directory string                      `json:"directory" yaml:"directory"`
	Default   string                      `json:"default" yaml:"default"`
	Instances []*connections.ServerConfig `json:"instances" yaml:"instances" validate:"dive,required"`
}

// Configuration is the full application configuration.
type Configuration struct {
	API     API     `json:"api" yaml:"api"`
	Models  Models  `json:"models" yaml:"models"`
	System  System  `json:"system" yaml:"system"`
	Servers Servers `json:"servers" yaml:"servers"`
}

// Timeout returns the provider HTTP timeout.
func (c *Configuration) Timeout() time.Duration {
	return time.Duration(values.NumbersCoalesce(c.System.Timeout, DefaultTimeoutSeconds)) * time.Second
}

// Load reads the configuration file, creating a documented default first
// when the file does not exist. Values of the form ${ENV} expand from the
// environment, and vendor credentials set in the environment win over file
// values.
func Load(path string) (*Configuration, error) {
	if _, err := os.Stat(path); err != nil {
		logger.KV(xlog.INFO, "reason", "config_not_found", "path", path)
		if err := WriteDefault(path); err != nil {
			return nil, err
		}
	}

	cfg := new(Configuration)
	if err := configloader.UnmarshalAndExpand(path, cfg); err != nil {
		return nil, errors.WithMessagef(ErrInvalidConfig, "%s: %s", path, err.Error())
	}

	cfg.API.OpenAIAPIKey = values.StringsCoalesce(os.Getenv("OPENAI_API_KEY"), cfg.API.OpenAIAPIKey)
	cfg.API.AnthropicAPIKey = values.StringsCoalesce(os.Getenv("ANTHROPIC_API_KEY"), cfg.API.AnthropicAPIKey)
	cfg.API.GoogleAPIKey = values.StringsCoalesce(os.Getenv("GOOGLE_API_KEY"), cfg.API.GoogleAPIKey)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.WithMessagef(ErrInvalidConfig, "%s", err.Error())
	}
	return cfg, nil
}

// WriteDefault writes the documented default configuration to path,
// creating parent directories as needed.
func WriteDefault(path string) error {
	cfg := Default()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal default configuration")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Default returns the documented default configuration.
func Default() *Configuration {
	return &Configuration{
		API: API{
			OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
			BaseURL:         "https://api.openai.com/v1",
		},
		Models: Models{
			Available: []string{"gpt-4o", "gpt-4-turbo", "claude-3-5-sonnet", "gemini-pro"},
			Selected:  "gpt-4o",
		},
		System: System{
			Message:             "You are an AI assistant that can use various tools to help users complete tasks.",
			Debug:               false,
			Timeout:             DefaultTimeoutSeconds,
			AutoServerSelection: true,
			PreloadServers:      []string{"weather"},
		},
		Servers: Servers{
			Directory: "servers",
			Default:   "weather",
			Instances: []*connections.ServerConfig{
				{
					Name:        "weather",
					Type:        connections.TypeStdio,
					Script:      "weather.py",
					Description: "Weather forecast service",
				},
				{
					Name:        "maps",
					Type:        connections.TypeSSE,
					URL:         "https://mcp.example.com/sse?key=YOUR_KEY",
					Description: "Maps and geocoding service",
				},
			},
		},
	}
}

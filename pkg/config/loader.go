package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment override, e.g. PLANSYNC_SERVER_PORT
const DefaultEnvPrefix = "PLANSYNC"

// DefaultSearchPaths are searched for config.yaml / config.json when no file is given
var DefaultSearchPaths = []string{".", "./config", "/etc/plansync"}

// legacyEnv maps config keys to the plain variable names older deployments export
var legacyEnv = map[string]string{
	"source.api_token":           "RUDDERSTACK_API_TOKEN",
	"source.base_url":            "RUDDERSTACK_BASE_URL",
	"destination.api_token":      "NOTION_API_TOKEN",
	"destination.parent_page_id": "NOTION_PARENT_PAGE_ID",
}

// keys that are omitted from the encoded defaults but must still be bindable
var optionalKeys = map[string]interface{}{
	"server.auth_tokens":                    []string{},
	"sync.event_detail_spec":                "",
	"logging.file":                          "",
	"telemetry.labels":                      map[string]string{},
	"cache.cosmosdb.connection_string":      "",
	"notifications.kafka.brokers":           []string{},
	"notifications.elasticsearch.addresses": []string{},
}

// LoaderOptions represents options for the configuration loader
type LoaderOptions struct {
	// ConfigFile is an explicit path; it must exist when set
	ConfigFile string
	// EnvPrefix for environment overrides, defaults to PLANSYNC
	EnvPrefix string
	// SearchPaths are searched for a file named config.{yaml,yml,json}
	SearchPaths []string
	// SkipValidation returns the config without validating it
	SkipValidation bool
}

// Loader reads configuration from defaults, an optional file and the environment
type Loader struct {
	v       *viper.Viper
	options LoaderOptions
}

// NewLoader creates a new configuration loader
func NewLoader(options LoaderOptions) *Loader {
	if options.EnvPrefix == "" {
		options.EnvPrefix = DefaultEnvPrefix
	}
	if options.SearchPaths == nil {
		options.SearchPaths = DefaultSearchPaths
	}
	return &Loader{v: viper.New(), options: options}
}

// Load resolves the configuration: env over file over defaults
func (l *Loader) Load() (*Config, error) {
	if err := l.setDefaults(); err != nil {
		return nil, err
	}

	l.v.SetEnvPrefix(l.options.EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		name := l.options.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(key, name, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if l.options.ConfigFile != "" {
		l.v.SetConfigFile(l.options.ConfigFile)
	} else {
		l.v.SetConfigName("config")
		for _, path := range l.options.SearchPaths {
			l.v.AddConfigPath(path)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.options.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug().Strs("paths", l.options.SearchPaths).Msg("No config file found, using defaults and environment")
	} else {
		log.Info().Str("file", l.v.ConfigFileUsed()).Msg("Loaded config file")
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	config := &Config{}
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if l.options.SkipValidation {
		return config, nil
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// setDefaults registers every key of DefaultConfig so env overrides reach Unmarshal
func (l *Loader) setDefaults() error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}

	for key, value := range flatten("", tree) {
		l.v.SetDefault(key, value)
	}
	for key, value := range optionalKeys {
		if !l.v.IsSet(key) {
			l.v.SetDefault(key, value)
		}
	}
	return nil
}

func flatten(prefix string, tree map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok && len(nested) > 0 {
			for k, v := range flatten(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

// ConfigFileUsed returns the file the configuration was read from, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the config file on change and hands every valid result to onChange.
// It is a no-op when no file was loaded.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		config, err := l.unmarshal()
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		log.Info().Str("file", e.Name).Msg("Config file changed")
		onChange(config)
	})
	l.v.WatchConfig()
}

// Load is a shortcut for NewLoader(options).Load()
func Load(options LoaderOptions) (*Config, error) {
	return NewLoader(options).Load()
}

// WriteTemplate renders the default configuration as yaml or json
func WriteTemplate(w io.Writer, format string) error {
	config := DefaultConfig()
	switch strings.ToLower(format) {
	case "", "yaml", "yml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(config); err != nil {
			return fmt.Errorf("failed to encode YAML config: %w", err)
		}
		return encoder.Close()
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(config); err != nil {
			return fmt.Errorf("failed to encode JSON config: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}
}

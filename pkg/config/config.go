package config

import (
	"time"

	"github.com/cohenjo/plansync/pkg/catalog"
	"github.com/cohenjo/plansync/pkg/estuary"
	"github.com/cohenjo/plansync/pkg/events"
	"github.com/cohenjo/plansync/pkg/identity"
)

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" mapstructure:"host" validate:"required"`
	Port            int           `json:"port" yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// AuthTokens enables bearer authentication on /api when non-empty
	AuthTokens []string   `json:"auth_tokens,omitempty" yaml:"auth_tokens,omitempty" mapstructure:"auth_tokens"`
	CORS       CORSConfig `json:"cors" yaml:"cors" mapstructure:"cors"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SyncConfig tunes the orchestrator
type SyncConfig struct {
	// AbortOnPropertyArchiveFailure makes a failed archive of the properties collection fatal
	AbortOnPropertyArchiveFailure bool `json:"abort_on_property_archive_failure" yaml:"abort_on_property_archive_failure" mapstructure:"abort_on_property_archive_failure"`

	// RunTimeout bounds one whole run, 0 means unbounded
	RunTimeout time.Duration `json:"run_timeout" yaml:"run_timeout" mapstructure:"run_timeout" validate:"gte=0"`

	// EventDetailSpec is a kazaam spec replacing the default event detail shaping
	EventDetailSpec string `json:"event_detail_spec,omitempty" yaml:"event_detail_spec,omitempty" mapstructure:"event_detail_spec"`
}

// NotificationsConfig selects where run events are published
type NotificationsConfig struct {
	Kafka         events.KafkaConfig   `json:"kafka" yaml:"kafka" mapstructure:"kafka"`
	Elasticsearch events.ElasticConfig `json:"elasticsearch" yaml:"elasticsearch" mapstructure:"elasticsearch"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" mapstructure:"format" validate:"oneof=json text"`
	Output string `json:"output" yaml:"output" mapstructure:"output" validate:"oneof=stdout stderr file"`
	File   string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`

	// Rotation, used when Output is file
	MaxSizeMB  int  `json:"max_size_mb" yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `json:"compress" yaml:"compress" mapstructure:"compress"`
}

// TelemetryConfig represents telemetry configuration
type TelemetryConfig struct {
	Enabled        bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName    string            `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string            `json:"service_version" yaml:"service_version" mapstructure:"service_version"`
	Environment    string            `json:"environment" yaml:"environment" mapstructure:"environment"`
	TracingEnabled bool              `json:"tracing_enabled" yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
	SampleRate     float64           `json:"sample_rate" yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	// TraceExporter is where finished spans go: otlp, stdout or none
	TraceExporter string `json:"trace_exporter" yaml:"trace_exporter" mapstructure:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	// TraceEndpoint is the OTLP/HTTP collector host:port; empty uses OTEL_EXPORTER_OTLP_ENDPOINT
	TraceEndpoint string `json:"trace_endpoint" yaml:"trace_endpoint" mapstructure:"trace_endpoint"`
	TraceInsecure bool   `json:"trace_insecure" yaml:"trace_insecure" mapstructure:"trace_insecure"`
	Labels         map[string]string `json:"labels,omitempty" yaml:"labels,omitempty" mapstructure:"labels"`
}

// Config represents the main application configuration
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server" mapstructure:"server"`
	Source        catalog.Config      `json:"source" yaml:"source" mapstructure:"source"`
	Destination   estuary.Config      `json:"destination" yaml:"destination" mapstructure:"destination"`
	Cache         identity.Config     `json:"cache" yaml:"cache" mapstructure:"cache"`
	Sync          SyncConfig          `json:"sync" yaml:"sync" mapstructure:"sync"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications" mapstructure:"notifications"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging" mapstructure:"logging"`
	Telemetry     TelemetryConfig     `json:"telemetry" yaml:"telemetry" mapstructure:"telemetry"`
}

// Version is stamped at build time
var Version = "dev"

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
		},
		Source: catalog.Config{
			BaseURL:  "https://api.rudderstack.com/v2",
			Timeout:  30 * time.Second,
			MaxPages: 1000,
			OrderBy:  "name",
		},
		Destination: estuary.Config{
			BaseURL:    "https://api.notion.com",
			APIVersion: estuary.DefaultAPIVersion,
			Timeout:    30 * time.Second,
		},
		Cache: identity.Config{
			Type:      "file",
			OnCorrupt: string(identity.CorruptionReset),
			File: identity.FileConfig{
				Directory:       "cache",
				FilePermissions: 0644,
				Fsync:           true,
			},
			Mongo: identity.MongoConfig{
				Database:         "plansync",
				Collection:       "identity_cache",
				ConnectTimeout:   10 * time.Second,
				OperationTimeout: 10 * time.Second,
			},
			SQL: identity.SQLConfig{
				Driver:           "sqlite",
				Table:            "identity_cache",
				OperationTimeout: 10 * time.Second,
			},
			Cosmos: identity.CosmosConfig{
				Database:         "plansync",
				Container:        "identity_cache",
				OperationTimeout: 10 * time.Second,
			},
		},
		Sync: SyncConfig{
			AbortOnPropertyArchiveFailure: false,
		},
		Notifications: NotificationsConfig{
			Kafka: events.KafkaConfig{
				Topic: "plansync-runs",
			},
			Elasticsearch: events.ElasticConfig{
				Index: events.DefaultElasticIndex,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			ServiceName:    "plansync",
			ServiceVersion: Version,
			Environment:    "development",
			TracingEnabled: false,
			SampleRate:     1.0,
			TraceExporter:  "otlp",
		},
	}
}

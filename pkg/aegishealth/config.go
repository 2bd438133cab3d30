package aegishealth

import (
	"github.com/ghalamif/AegisHealth/internal/adapters/opcua"
	"github.com/ghalamif/AegisHealth/internal/app/config"
	"github.com/ghalamif/AegisHealth/internal/logging"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls WAL/queue thresholds.
	Policy = ports.Policy
	// PipelineConfig tunes commit retries, reordering and propagation.
	PipelineConfig = config.PipelineConfig
	// ReliabilityConfig holds default, tenant and asset parameters.
	ReliabilityConfig = config.ReliabilityConfig
	// ParamsOverride is a partial parameter set.
	ParamsOverride = config.ParamsOverride
	// TenantParams overrides parameters for a tenant and its assets.
	TenantParams = config.TenantParams
	// StoreConfig selects and configures the state store.
	StoreConfig = config.StoreConfig
	// NATSConfig configures the KV cache mirror and event subjects.
	NATSConfig = config.NATSConfig
	// HTTPConfig configures the ingest/state API.
	HTTPConfig = config.HTTPConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures on-disk durability.
	WALConfig = config.WALConfig
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps a node onto an asset field.
	OPCUANodeConfig = opcua.NodeConfig
	// LoggingConfig selects log level and format.
	LoggingConfig = logging.Config
)

// Store drivers.
const (
	DriverPostgres = config.DriverPostgres
	DriverBadger   = config.DriverBadger
	DriverMemory   = config.DriverMemory
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig reads YAML already in memory, applying the same defaults and
// validation as LoadConfig.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}

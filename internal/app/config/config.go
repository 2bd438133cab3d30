package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisHealth/internal/adapters/opcua"
	"github.com/ghalamif/AegisHealth/internal/logging"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

type Config struct {
	Policy      ports.Policy      `yaml:"policy"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Store       StoreConfig       `yaml:"store"`
	NATS        NATSConfig        `yaml:"nats"`
	HTTP        HTTPConfig        `yaml:"http"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	WAL         WALConfig         `yaml:"wal"`
	OPCUA       *opcua.Config     `yaml:"opcua"`
	Logging     logging.Config    `yaml:"logging"`
}

// PipelineConfig tunes the orchestrator and its propagation workers.
type PipelineConfig struct {
	MaxCommitRetries   int           `yaml:"max_commit_retries"`
	// ReorderWindow defaults to 200ms; a negative value disables waiting.
	ReorderWindow      time.Duration `yaml:"reorder_window"`
	PropagationWorkers int           `yaml:"propagation_workers"`
	PropagationQueue   int           `yaml:"propagation_queue"`
	PropagationRetries uint          `yaml:"propagation_retries"`
	PropagationTimeout time.Duration `yaml:"propagation_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverMemory   = "memory"
)

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	StateTable string `yaml:"state_table"`
	AuditTable string `yaml:"audit_table"`
	// Path is the badger data directory.
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// NATSConfig enables the JetStream KV cache mirror and event publishing.
// An empty URL disables both.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	KVBucket      string        `yaml:"kv_bucket"`
	KVTTL         time.Duration `yaml:"kv_ttl"`
	Timeout       time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type WALConfig struct {
	Dir string `yaml:"dir"`
	// Sync fsyncs every append.
	Sync bool `yaml:"sync"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 10 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 5_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}

	if c.Pipeline.MaxCommitRetries == 0 {
		c.Pipeline.MaxCommitRetries = 3
	}
	if c.Pipeline.ReorderWindow == 0 {
		c.Pipeline.ReorderWindow = 200 * time.Millisecond
	}
	if c.Pipeline.PropagationWorkers == 0 {
		c.Pipeline.PropagationWorkers = 4
	}
	if c.Pipeline.PropagationQueue == 0 {
		c.Pipeline.PropagationQueue = 1024
	}
	if c.Pipeline.PropagationRetries == 0 {
		c.Pipeline.PropagationRetries = 3
	}
	if c.Pipeline.PropagationTimeout == 0 {
		c.Pipeline.PropagationTimeout = 2 * time.Second
	}
	if c.Pipeline.ShutdownTimeout == 0 {
		c.Pipeline.ShutdownTimeout = 5 * time.Second
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverPostgres
	}
	if c.Store.Driver == DriverBadger && c.Store.Path == "" {
		c.Store.Path = "./data/state"
	}

	if c.NATS.Name == "" {
		c.NATS.Name = "aegis-health"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "aegis.health"
	}
	if c.NATS.KVBucket == "" {
		c.NATS.KVBucket = "asset_state"
	}
	if c.NATS.Timeout == 0 {
		c.NATS.Timeout = 2 * time.Second
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.OPCUA != nil {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if c.OPCUA != nil {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	case DriverBadger, DriverMemory:
	default:
		return fmt.Errorf("store.driver %q is not one of postgres, badger, memory", c.Store.Driver)
	}
	switch c.Policy.OnQueueFull {
	case "block", "drop", "reject":
	default:
		return fmt.Errorf("policy.on_queue_full %q is not one of block, drop, reject", c.Policy.OnQueueFull)
	}
	switch c.Policy.OnWALFull {
	case "block", "drop":
	default:
		return fmt.Errorf("policy.on_wal_full %q is not one of block, drop", c.Policy.OnWALFull)
	}
	if c.Pipeline.MaxCommitRetries < 0 {
		return errors.New("pipeline.max_commit_retries must not be negative")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	if err := c.Reliability.validate(); err != nil {
		return fmt.Errorf("reliability: %w", err)
	}
	return nil
}

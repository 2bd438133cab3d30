package opcua

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gopcua/opcua"
)

// Config describes the OPC UA session and which nodes feed which asset.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	DefaultTenant    string        `yaml:"default_tenant"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps a monitored node onto one field of one asset's readings.
type NodeConfig struct {
	NodeID   string `yaml:"node_id"`
	TenantID string `yaml:"tenant_id"`
	AssetID  string `yaml:"asset_id"`
	Field    string `yaml:"field"`
}

func (c *Config) ApplyDefaults() {
	c.SecurityMode = canonicalMode(c.SecurityMode)
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisHealth Collector"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	c.SamplingInterval = max(c.SamplingInterval, 0)

	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.TenantID == "" {
			n.TenantID = c.DefaultTenant
		}
		if n.Field == "" {
			n.Field = FieldLoad
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	seen := make(map[string]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		switch {
		case n.NodeID == "":
			return errors.New("node_id is required")
		case n.TenantID == "" || n.AssetID == "":
			return fmt.Errorf("node %s: tenant_id and asset_id are required", n.NodeID)
		case !validField(n.Field):
			return fmt.Errorf("node %s: unknown field %q", n.NodeID, n.Field)
		}
		if _, dup := seen[n.NodeID]; dup {
			return fmt.Errorf("node %s: configured twice", n.NodeID)
		}
		seen[n.NodeID] = struct{}{}
	}
	return nil
}

// clientOptions turns the session settings into gopcua options.
func (c *Config) clientOptions() []opcua.Option {
	auth := opcua.AuthAnonymous()
	if c.Username != "" {
		auth = opcua.AuthUsername(c.Username, c.Password)
	}
	return []opcua.Option{
		opcua.SecurityModeString(canonicalMode(c.SecurityMode)),
		opcua.SecurityPolicy(c.SecurityPolicy),
		opcua.ApplicationName(c.ApplicationName),
		opcua.AutoReconnect(true),
		auth,
	}
}

func canonicalMode(mode string) string {
	m := strings.NewReplacer("_", "", "+", "", "-", "").Replace(strings.ToLower(mode))
	switch m {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt":
		return "SignAndEncrypt"
	}
	return "None"
}

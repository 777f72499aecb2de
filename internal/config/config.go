// Package config loads the service's YAML configuration: a root Config
// struct, a DefaultConfig constructor, and a Validate method.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StoreConfig holds backing-store connection settings.
type StoreConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	PoolSize       int `yaml:"pool_size" json:"pool_size"`
	DialTimeoutMS  int `yaml:"dial_timeout_ms" json:"dial_timeout_ms"`
	PoolTimeoutMS  int `yaml:"pool_timeout_ms" json:"pool_timeout_ms"`
	OpTimeoutMS    int `yaml:"op_timeout_ms" json:"op_timeout_ms"`
	SearchOpMS     int `yaml:"search_timeout_ms" json:"search_timeout_ms"`
}

// VectorConfig holds vector-set sizing for the Vector Service.
type VectorConfig struct {
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Metric     string `yaml:"metric" json:"metric"` // cosine
	Capacity   int    `yaml:"capacity" json:"capacity"`
}

// EmbeddingConfig holds the (out-of-scope) embedding provider's endpoint.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
}

// ServerConfig holds the process's own listen ports.
type ServerConfig struct {
	MCPPort  int `yaml:"mcp_port" json:"mcp_port"`
	NATSPort int `yaml:"nats_port" json:"nats_port"`
}

// MonitorConfig holds the cognitive monitor's tuning knobs.
type MonitorConfig struct {
	CooldownSeconds      int     `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	ContextWindowMinutes int     `yaml:"context_window_minutes" json:"context_window_minutes"`
	BufferCap            int     `yaml:"buffer_cap" json:"buffer_cap"`
	DecayIntervalHours   int     `yaml:"decay_interval_hours" json:"decay_interval_hours"`
	LoadGateThreshold    float64 `yaml:"load_gate_threshold" json:"load_gate_threshold"`
	FocusGateThreshold   float64 `yaml:"focus_gate_threshold" json:"focus_gate_threshold"`
}

// Config is the root configuration for the cognitive memory service.
type Config struct {
	Instance   string          `yaml:"instance" json:"instance"`
	Server     ServerConfig    `yaml:"server" json:"server"`
	Store      StoreConfig     `yaml:"store" json:"store"`
	Vector     VectorConfig    `yaml:"vector" json:"vector"`
	Embedding  EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Monitor    MonitorConfig   `yaml:"monitor" json:"monitor"`
	MaxContent int             `yaml:"max_content" json:"max_content"`
	MaxTotal   int             `yaml:"max_total" json:"max_total"`
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Instance: "default",
		Server: ServerConfig{
			MCPPort:  8420,
			NATSPort: 4222,
		},
		Store: StoreConfig{
			Host:          "127.0.0.1",
			Port:          6379,
			DB:            0,
			PoolSize:      16,
			DialTimeoutMS: 5000,
			PoolTimeoutMS: 5000,
			OpTimeoutMS:   5000,
			SearchOpMS:    10000,
		},
		Vector: VectorConfig{
			Dimensions: 384,
			Metric:     "cosine",
			Capacity:   100000,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:1234/v1",
			Model:   "qwen2.5-coder-7b-instruct",
		},
		Monitor: MonitorConfig{
			CooldownSeconds:      30,
			ContextWindowMinutes: 30,
			BufferCap:            1000,
			DecayIntervalHours:   168, // 7 days
			LoadGateThreshold:    0.9,
			FocusGateThreshold:   0.9,
		},
		MaxContent: 50000,
		MaxTotal:   1000,
	}
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Store.Port <= 0 || c.Store.Port > 65535 {
		return fmt.Errorf("invalid store port: %d", c.Store.Port)
	}
	if strings.ContainsAny(c.Store.Password, "@:/") {
		return fmt.Errorf("store password must not contain '@', ':', or '/'")
	}
	if c.Vector.Dimensions <= 0 {
		return fmt.Errorf("invalid vector dimensions: %d", c.Vector.Dimensions)
	}
	if c.Instance == "" {
		return fmt.Errorf("instance id is required")
	}
	if c.MaxTotal <= 0 {
		return fmt.Errorf("max_total must be positive")
	}
	return nil
}

// Addr returns the host:port pair for the backing store.
func (c *StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

package drover

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/droverhq/drover/guard"
)

// Config is the YAML runtime configuration for a drover deployment.
type Config struct {
	// Orchestrator settings
	MaxAgents       int    `yaml:"max_agents"`
	DispatchTimeout string `yaml:"dispatch_timeout"` // e.g., "10s"
	WorkerBinary    string `yaml:"worker_binary"`

	// StorePath is the SQLite database path ("" disables persistence)
	StorePath string `yaml:"store_path"`

	// Guardrail pipeline configuration
	Guardrail guard.Config `yaml:"guardrail"`

	// Agents spawned at startup. Capabilities are raw values so entries
	// that are not strings survive decoding; they are normalized on spawn.
	Agents []ConfigAgent `yaml:"agents"`

	// Schedules registered at startup
	Schedules []ScheduledTask `yaml:"schedules"`

	// Telegram operator alerts (optional)
	Telegram TelegramConfig `yaml:"telegram"`
}

// ConfigAgent describes an agent to spawn at startup.
type ConfigAgent struct {
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	Capabilities []any  `yaml:"capabilities"`
}

// TelegramConfig configures the operator alert channel.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.MaxAgents < 0 {
		return fmt.Errorf("max_agents must not be negative")
	}
	if c.MaxAgents == 0 {
		c.MaxAgents = 100
	}
	if c.DispatchTimeout != "" {
		if _, err := time.ParseDuration(c.DispatchTimeout); err != nil {
			return fmt.Errorf("invalid dispatch_timeout %q: %w", c.DispatchTimeout, err)
		}
	}
	if c.WorkerBinary == "" {
		c.WorkerBinary = os.Args[0]
	}
	for i := range c.Schedules {
		if c.Schedules[i].Name == "" {
			return fmt.Errorf("schedule %d: name is required", i)
		}
		if c.Schedules[i].Cron == "" {
			return fmt.Errorf("schedule %q: cron expression is required", c.Schedules[i].Name)
		}
	}
	c.Guardrail.ApplyDefaults()
	return nil
}

// ParsedDispatchTimeout returns the dispatch timeout as a duration.
func (c *Config) ParsedDispatchTimeout() time.Duration {
	if c.DispatchTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.DispatchTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

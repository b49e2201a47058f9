// Package config defines the runtime's YAML configuration: server,
// logging, redis, models, agents and tools.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parley-run/parley/pkg/sensitive"
	"github.com/parley-run/parley/pkg/tools"
)

// Agent modes.
const (
	ModeReAct     = "react"
	ModePrompt    = "prompt"
	ModeDeepThink = "deep_think"
)

type Config struct {
	Server  ServerConfig           `yaml:"server"`
	Logging LoggingConfig          `yaml:"logging"`
	Redis   RedisConfig            `yaml:"redis"`
	Models  map[string]ModelConfig `yaml:"models"`
	Agents  map[string]AgentConfig `yaml:"agents"`
	Tools   []ToolConfig           `yaml:"tools"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout_seconds"`
}

// MaxLoops is the loop bound: an integer, or the string "auto" which
// disables the numeric bound only.
type MaxLoops struct {
	Value int
	Auto  bool
}

func (m *MaxLoops) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		if s == "auto" {
			m.Auto = true
			return nil
		}
	}
	var n int
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("max_loops must be an integer or \"auto\"")
	}
	if n < 1 {
		return fmt.Errorf("max_loops must be at least 1")
	}
	m.Value = n
	return nil
}

func (m MaxLoops) MarshalYAML() (any, error) {
	if m.Auto {
		return "auto", nil
	}
	return m.Value, nil
}

type AgentConfig struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Mode          string   `yaml:"mode"`
	Model         string   `yaml:"model"`
	SystemPrompt  string   `yaml:"system_prompt"`
	RoleSettings  string   `yaml:"role_settings"`
	ToolPrompt    string   `yaml:"tool_prompt"`
	MaxLoops      MaxLoops `yaml:"max_loops"`
	StopWords     []string `yaml:"stop_words"`
	Tools         []string `yaml:"tools"`
	DefaultAnswer string   `yaml:"default_answer"`
	HistoryDepth  int      `yaml:"history_depth"`
	// HistoryTokenBudget caps the token size of the injected history turn;
	// 0 disables counting.
	HistoryTokenBudget int `yaml:"history_token_budget"`
	Retry              int `yaml:"retry"`
	// DeepThinkURL is the external streaming endpoint deep_think agents
	// relay.
	DeepThinkURL string `yaml:"deep_think_url"`
}

// ToolConfig is one tool entry. Kind selects which of the sections apply.
type ToolConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description"`

	// http
	Origin    string                   `yaml:"origin"`
	Path      string                   `yaml:"path"`
	Method    string                   `yaml:"method"`
	Partition tools.ParameterPartition `yaml:"parameter_partition"`
	Auth      *tools.AuthConfig        `yaml:"auth_config"`
	IsStream  bool                     `yaml:"is_stream"`
	FrameType string                   `yaml:"frame_type"`
	Sensitive sensitive.Config         `yaml:"sensitive_data_config"`
	Timeout   int                      `yaml:"timeout_seconds"`

	// mcp
	MCP *tools.MCPConfig `yaml:"mcp"`
}

// HTTPDescriptor converts an http tool entry to the invoker's descriptor.
func (t ToolConfig) HTTPDescriptor() tools.HTTPDescriptor {
	return tools.HTTPDescriptor{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Origin:      t.Origin,
		Path:        t.Path,
		Method:      t.Method,
		Partition:   t.Partition,
		Auth:        t.Auth,
		IsStream:    t.IsStream,
		FrameType:   t.FrameType,
		Sensitive:   t.Sensitive,
		Timeout:     time.Duration(t.Timeout) * time.Second,
	}
}

func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	for name, model := range c.Models {
		if model.Provider == "" {
			model.Provider = "openai"
		}
		if model.Timeout == 0 {
			model.Timeout = 300
		}
		c.Models[name] = model
	}

	for name, agent := range c.Agents {
		if agent.Name == "" {
			agent.Name = name
		}
		if agent.Mode == "" {
			agent.Mode = ModeReAct
		}
		if agent.MaxLoops.Value == 0 && !agent.MaxLoops.Auto {
			agent.MaxLoops.Value = 5
		}
		if agent.Retry == 0 {
			agent.Retry = 3
		}
		if agent.HistoryDepth == 0 {
			agent.HistoryDepth = 10
		}
		c.Agents[name] = agent
	}
}

func (c *Config) Validate() error {
	for name, model := range c.Models {
		if model.BaseURL == "" {
			return fmt.Errorf("model '%s': base_url is required", name)
		}
		if model.Model == "" {
			return fmt.Errorf("model '%s': model is required", name)
		}
	}

	// MCP tool names are discovered at runtime, so agent tool references
	// are resolved at registration time, not here.
	for i, tool := range c.Tools {
		if tool.Name == "" && tool.Kind != "mcp" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
		switch tool.Kind {
		case "local":
		case "http":
			if tool.Origin == "" {
				return fmt.Errorf("tool '%s': origin is required", tool.Name)
			}
		case "mcp":
			if tool.MCP == nil {
				return fmt.Errorf("tool '%s': mcp section is required", tool.Name)
			}
		default:
			return fmt.Errorf("tool '%s': unknown kind '%s'", tool.Name, tool.Kind)
		}
	}

	for name, agent := range c.Agents {
		switch agent.Mode {
		case ModeReAct, ModePrompt:
			if agent.Model == "" {
				return fmt.Errorf("agent '%s': model is required", name)
			}
			if _, ok := c.Models[agent.Model]; !ok {
				return fmt.Errorf("agent '%s': unknown model '%s'", name, agent.Model)
			}
		case ModeDeepThink:
			if agent.DeepThinkURL == "" {
				return fmt.Errorf("agent '%s': deep_think_url is required for deep_think mode", name)
			}
		default:
			return fmt.Errorf("agent '%s': unknown mode '%s'", name, agent.Mode)
		}
	}
	return nil
}

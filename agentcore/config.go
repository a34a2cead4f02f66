package agentcore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoopConfig holds configuration for a step loop run.
type LoopConfig struct {
	Model        string `yaml:"model" json:"model"`
	Provider     string `yaml:"provider,omitempty" json:"provider,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`

	MaxSteps         int `yaml:"max_steps" json:"max_steps"`
	MaxParallelTools int `yaml:"max_parallel_tools" json:"max_parallel_tools"`

	// DecodeRetries is the model re-ask budget for undecodable
	// structured tool-call payloads before the run degrades.
	DecodeRetries int `yaml:"decode_retries" json:"decode_retries"`

	EnableLoopDetection bool `yaml:"enable_loop_detection" json:"enable_loop_detection"`
	LoopDetectionWindow int  `yaml:"loop_detection_window" json:"loop_detection_window"`

	// Decomposition limits.
	MaxDepth        int `yaml:"max_depth" json:"max_depth"`
	IterationBudget int `yaml:"iteration_budget" json:"iteration_budget"`

	ToolOutputLimits map[string]int `yaml:"tool_output_limits,omitempty" json:"tool_output_limits,omitempty"`
	ToolLineLimits   map[string]int `yaml:"tool_line_limits,omitempty" json:"tool_line_limits,omitempty"`

	EventBufferSize int `yaml:"event_buffer_size" json:"event_buffer_size"`
}

// DefaultLoopConfig returns the default configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxSteps:            50,
		MaxParallelTools:    DefaultMaxParallelTools,
		DecodeRetries:       2,
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
		MaxDepth:            3,
		IterationBudget:     40,
		EventBufferSize:     256,
	}
}

// LoadLoopConfig reads a YAML config file, layering it over defaults.
func LoadLoopConfig(path string) (LoopConfig, error) {
	cfg := DefaultLoopConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

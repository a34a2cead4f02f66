package llm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	DisplayName          string   `json:"display_name"`
	ContextWindow        int      `json:"context_window"`
	SupportsTools        bool     `json:"supports_tools"`
	InputCostPerMillion  float64  `json:"input_cost_per_million"`
	OutputCostPerMillion float64  `json:"output_cost_per_million"`
	Aliases              []string `json:"aliases,omitempty"`
}

// DefaultContextWindow is assumed for models missing from the catalog.
const DefaultContextWindow = 128000

// Models is the built-in model catalog (February 2026).
var Models = []ModelInfo{
	// Anthropic
	{
		ID: "claude-opus-4-6", Provider: "anthropic", DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, SupportsTools: true,
		InputCostPerMillion: 15.0, OutputCostPerMillion: 75.0,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, SupportsTools: true,
		InputCostPerMillion: 3.0, OutputCostPerMillion: 15.0,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},

	// OpenAI
	{
		ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, SupportsTools: true,
		InputCostPerMillion: 2.50, OutputCostPerMillion: 10.0,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5.2-mini", Provider: "openai", DisplayName: "GPT-5.2 Mini",
		ContextWindow: 1047576, SupportsTools: true,
		InputCostPerMillion: 0.75, OutputCostPerMillion: 3.0,
		Aliases: []string{"gpt5-mini"},
	},

	// Gemini
	{
		ID: "gemini-3-pro-preview", Provider: "gemini", DisplayName: "Gemini 3 Pro (Preview)",
		ContextWindow: 1048576, SupportsTools: true,
		InputCostPerMillion: 1.25, OutputCostPerMillion: 5.0,
		Aliases: []string{"gemini-pro", "gemini-3-pro"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ContextWindowFor returns the context window for a model, falling back
// to DefaultContextWindow for models missing from the catalog.
func ContextWindowFor(modelID string) int {
	if info := GetModelInfo(modelID); info != nil {
		return info.ContextWindow
	}
	return DefaultContextWindow
}

// CostFor computes the dollar cost of the given usage for a model.
// Unknown models cost zero.
func CostFor(modelID string, usage Usage) float64 {
	info := GetModelInfo(modelID)
	if info == nil {
		return 0
	}
	return float64(usage.InputTokens)/1e6*info.InputCostPerMillion +
		float64(usage.OutputTokens)/1e6*info.OutputCostPerMillion
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first (newest/best) model for a provider.
func GetLatestModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

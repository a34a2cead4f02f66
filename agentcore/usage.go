package agentcore

// UsageMetrics accumulates token consumption and cost across steps and
// across subtask runs (a parent aggregates its children).
type UsageMetrics struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CachedTokens int     `json:"cached_tokens"`
	Cost         float64 `json:"cost"`
}

// Add accumulates other into u.
func (u *UsageMetrics) Add(other UsageMetrics) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedTokens += other.CachedTokens
	u.Cost += other.Cost
}

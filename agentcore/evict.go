package agentcore

// Eviction thresholds. Tool output inside the protect window is never
// pruned, and a pass that would reclaim less than the minimum savings
// is skipped entirely.
const (
	ProtectTokens = 40_000
	MinSavings    = 20_000
	MinUserTurns  = 2

	// EvictedPlaceholder replaces pruned tool output. The part structure
	// and call/return pairing stay intact.
	EvictedPlaceholder = "[Old tool result content cleared]"
)

// Evictor reclaims token budget by clearing old tool-return content.
// It never removes messages and never touches the most recent
// ProtectTokens worth of tool output, so it is safe to run every step.
type Evictor struct {
	Estimator     TokenEstimator
	ProtectTokens int
	MinSavings    int
	MinUserTurns  int
}

// NewEvictor creates an Evictor with the default thresholds.
func NewEvictor(est TokenEstimator) *Evictor {
	return &Evictor{
		Estimator:     est,
		ProtectTokens: ProtectTokens,
		MinSavings:    MinSavings,
		MinUserTurns:  MinUserTurns,
	}
}

// Prune runs one eviction pass over the transcript and returns the
// number of tokens reclaimed. Idempotent: a second pass with no
// intervening appends reclaims zero.
func (e *Evictor) Prune(t *TranscriptStore) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.countUserTurns(t.messages) < e.MinUserTurns {
		return 0
	}

	// Scan tool returns from the end backward. Returns inside the
	// protect window are kept; everything older is a candidate.
	type candidate struct {
		msgIdx  int
		partIdx int
		size    int
	}
	var candidates []candidate
	accumulated := 0

	for i := len(t.messages) - 1; i >= 0; i-- {
		for j := len(t.messages[i].Parts) - 1; j >= 0; j-- {
			p := t.messages[i].Parts[j]
			if p.Kind != PartToolReturn || p.ToolReturn == nil {
				continue
			}
			if p.ToolReturn.Content == EvictedPlaceholder {
				continue
			}
			size := e.Estimator.Estimate(p.ToolReturn.Content)
			if accumulated >= e.ProtectTokens {
				candidates = append(candidates, candidate{msgIdx: i, partIdx: j, size: size})
			}
			accumulated += size
		}
	}

	savings := 0
	placeholderSize := e.Estimator.Estimate(EvictedPlaceholder)
	for _, c := range candidates {
		savings += c.size - placeholderSize
	}
	if savings < e.MinSavings {
		return 0
	}

	reclaimed := 0
	for _, c := range candidates {
		part := &t.messages[c.msgIdx].Parts[c.partIdx]
		part.ToolReturn.Content = EvictedPlaceholder
		reclaimed += c.size - placeholderSize
	}
	t.tokenCount -= reclaimed
	return reclaimed
}

func (e *Evictor) countUserTurns(messages []Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

package agentcore

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates the token size of text for transcript
// accounting and eviction decisions. Estimates do not need to match the
// provider's tokenizer exactly; they only need to be stable.
type TokenEstimator interface {
	Estimate(text string) int
}

// HeuristicEstimator approximates tokens as len/4. Used when no
// tokenizer is available.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(text string) int {
	return len(text) / 4
}

// TiktokenEstimator counts tokens with a real BPE encoding. Falls back
// to the len/4 heuristic if the encoding cannot be loaded (offline
// environments).
type TiktokenEstimator struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewTiktokenEstimator returns an estimator backed by the cl100k_base
// encoding, loaded lazily on first use.
func NewTiktokenEstimator() *TiktokenEstimator {
	return &TiktokenEstimator{}
}

func (e *TiktokenEstimator) Estimate(text string) int {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.encoding = enc
		}
	})
	if e.encoding == nil {
		return len(text) / 4
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// EstimateMessage sums the estimated token size of every part of a
// message, including tool call arguments.
func EstimateMessage(est TokenEstimator, msg Message) int {
	total := 0
	for _, p := range msg.Parts {
		switch p.Kind {
		case PartText, PartThought, PartSystemNote:
			total += est.Estimate(p.Text)
		case PartToolCall:
			if p.ToolCall != nil {
				total += est.Estimate(p.ToolCall.Name) + est.Estimate(string(p.ToolCall.Args))
			}
		case PartToolReturn:
			if p.ToolReturn != nil {
				total += est.Estimate(p.ToolReturn.Content)
			}
		}
	}
	return total
}

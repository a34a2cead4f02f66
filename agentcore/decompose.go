package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/martinemde/undertow/llm"
)

// TaskStatus tracks a task node's lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskNode is one node in the decomposition tree.
type TaskNode struct {
	ID              string       `json:"id"`
	ParentID        string       `json:"parent_id,omitempty"`
	Depth           int          `json:"depth"`
	IterationBudget int          `json:"iteration_budget"`
	Status          TaskStatus   `json:"status"`
	Description     string       `json:"description"`
	Children        []*TaskNode  `json:"children,omitempty"`
	Usage           UsageMetrics `json:"usage"`
	FinalText       string       `json:"final_text,omitempty"`
	Err             error        `json:"-"`
}

// AllocateBudget splits budget across n subtasks as evenly as possible:
// budget/n each, with the remainder going to the first subtasks, so the
// allocations sum to budget exactly. n == 0 yields an empty slice.
func AllocateBudget(budget, n int) []int {
	if n <= 0 {
		return []int{}
	}
	base := budget / n
	remainder := budget % n
	allocations := make([]int, n)
	for i := range allocations {
		allocations[i] = base
		if i < remainder {
			allocations[i]++
		}
	}
	return allocations
}

// Classification is the complexity verdict for a request.
type Classification struct {
	ShouldDecompose bool     `json:"should_decompose"`
	Complexity      float64  `json:"complexity"`
	Subtasks        []string `json:"subtasks,omitempty"`
}

// complexityThreshold is the heuristic score above which a request is
// considered worth decomposing.
const complexityThreshold = 0.7

const classifyPrompt = `Analyze the following request and decide whether it should be split into subtasks.
Respond with a single JSON object of the form:
{"should_decompose": <bool>, "complexity": <0.0-1.0>, "subtasks": ["...", "..."]}
Propose subtasks only when the request genuinely contains multiple independent pieces of work.

Request:
%s`

// connectiveKeywords signal multi-part requests in the heuristic.
var connectiveKeywords = []string{
	" and then ", " after that ", " then ", " followed by ",
	" first ", " second ", " third ", " finally ", " also ", "; ",
}

// ClassifyHeuristic estimates a 0-1 complexity score from request
// length and connective keywords, proposing subtasks only when the
// score is high. Used when the LLM classifier is unavailable.
func ClassifyHeuristic(request string) Classification {
	lower := strings.ToLower(request)
	words := len(strings.Fields(request))

	connectives := 0
	for _, kw := range connectiveKeywords {
		connectives += strings.Count(lower, kw)
	}

	score := float64(words)/200.0 + float64(connectives)*0.2
	if score > 1.0 {
		score = 1.0
	}

	c := Classification{Complexity: score}
	if score < complexityThreshold {
		return c
	}

	subtasks := splitOnConnectives(request)
	if len(subtasks) >= 2 {
		c.ShouldDecompose = true
		c.Subtasks = subtasks
	}
	return c
}

func splitOnConnectives(request string) []string {
	segments := []string{request}
	for _, sep := range []string{" and then ", " then ", "; "} {
		var next []string
		for _, seg := range segments {
			for _, piece := range strings.Split(seg, sep) {
				piece = strings.TrimSpace(piece)
				if piece != "" {
					next = append(next, piece)
				}
			}
		}
		segments = next
	}
	return segments
}

// RunFunc executes one task description as an isolated run with the
// given step budget and returns its outcome.
type RunFunc func(ctx context.Context, description string, maxSteps int) RunOutcome

// RecursiveDecomposer classifies requests and executes complex ones as
// trees of budgeted subtask runs.
type RecursiveDecomposer struct {
	Client ModelCaller // classifier; nil forces the heuristic
	Config LoopConfig
	Run    RunFunc
	Logger *slog.Logger
}

// NewRecursiveDecomposer creates a decomposer. run executes leaf tasks.
func NewRecursiveDecomposer(client ModelCaller, cfg LoopConfig, run RunFunc) *RecursiveDecomposer {
	return &RecursiveDecomposer{
		Client: client,
		Config: cfg,
		Run:    run,
		Logger: slog.Default(),
	}
}

// Execute classifies the request and runs it, decomposing recursively
// when complex. Returns the completed task tree; the root node's Status
// and Err describe the overall result.
func (d *RecursiveDecomposer) Execute(ctx context.Context, request string) (*TaskNode, error) {
	root := &TaskNode{
		ID:              uuid.New().String(),
		Depth:           0,
		IterationBudget: d.Config.IterationBudget,
		Status:          TaskPending,
		Description:     request,
	}
	err := d.executeNode(ctx, root)
	return root, err
}

func (d *RecursiveDecomposer) executeNode(ctx context.Context, node *TaskNode) error {
	node.Status = TaskRunning

	c := d.classify(ctx, node.Description)
	if !c.ShouldDecompose || len(c.Subtasks) < 2 {
		return d.runLeaf(ctx, node)
	}

	// A complex request at the depth limit fails fast rather than
	// running an oversized task with no room to split it.
	if node.Depth >= d.Config.MaxDepth {
		node.Status = TaskFailed
		node.Err = &DepthLimitError{MaxDepth: d.Config.MaxDepth}
		return node.Err
	}

	d.Logger.Info("decomposing request",
		"task_id", node.ID, "depth", node.Depth,
		"complexity", c.Complexity, "subtasks", len(c.Subtasks))

	allocations := AllocateBudget(node.IterationBudget, len(c.Subtasks))
	for i, desc := range c.Subtasks {
		child := &TaskNode{
			ID:              uuid.New().String(),
			ParentID:        node.ID,
			Depth:           node.Depth + 1,
			IterationBudget: allocations[i],
			Status:          TaskPending,
			Description:     desc,
		}
		node.Children = append(node.Children, child)
	}

	// Subtasks run sequentially: no shared state, simple budget
	// accounting. The first failure aborts the remaining siblings.
	for _, child := range node.Children {
		if err := d.executeNode(ctx, child); err != nil {
			node.Status = TaskFailed
			node.Err = fmt.Errorf("subtask %q failed: %w", child.Description, err)
			d.aggregateUsage(node)
			return node.Err
		}
	}

	node.Status = TaskCompleted
	d.aggregateUsage(node)
	return nil
}

func (d *RecursiveDecomposer) runLeaf(ctx context.Context, node *TaskNode) error {
	outcome := d.Run(ctx, node.Description, node.IterationBudget)
	node.Usage = outcome.Usage
	node.FinalText = outcome.FinalText
	if outcome.Kind != OutcomeSuccess {
		node.Status = TaskFailed
		node.Err = outcome.Err
		if node.Err == nil {
			node.Err = fmt.Errorf("run ended with outcome %s", outcome.Kind)
		}
		return node.Err
	}
	node.Status = TaskCompleted
	return nil
}

func (d *RecursiveDecomposer) aggregateUsage(node *TaskNode) {
	for _, child := range node.Children {
		node.Usage.Add(child.Usage)
	}
}

// classify asks the model whether the request decomposes, falling back
// to the heuristic when the classifier is unavailable or its answer is
// unparseable.
func (d *RecursiveDecomposer) classify(ctx context.Context, request string) Classification {
	if d.Client == nil {
		return ClassifyHeuristic(request)
	}

	resp, err := d.Client.Complete(ctx, llm.Request{
		Model:    d.Config.Model,
		Provider: d.Config.Provider,
		Messages: []llm.Message{llm.UserMessage(fmt.Sprintf(classifyPrompt, request))},
	})
	if err != nil {
		d.Logger.Warn("classifier unavailable, using heuristic", "error", err)
		return ClassifyHeuristic(request)
	}

	candidate := firstBalancedObject(resp.Text())
	if candidate == "" {
		return ClassifyHeuristic(request)
	}
	var c Classification
	if err := json.Unmarshal([]byte(candidate), &c); err != nil {
		return ClassifyHeuristic(request)
	}
	return c
}

// firstBalancedObject returns the first brace-balanced JSON object in
// the text, or "" if none closes.
func firstBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

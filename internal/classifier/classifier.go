package classifier

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/costwise-ai/costwise/internal/types"
)

// Complexity score weights. The score starts at a baseline and moves with
// vocabulary and length signals, clamped to [0,1].
const (
	baselineScore    = 0.2
	longFormWeight   = 0.3
	complexWeight    = 0.4
	analyticalWeight = 0.3
	simplicityWeight = 0.3
)

// Confidence levels reported with decisions.
const (
	confidenceHigh     = 0.9
	confidenceModerate = 0.75
	confidenceLow      = 0.6
)

// Heuristics holds the configurable matching data. Word lists are data, not
// code, so the matching strategy can be retuned without touching the
// decision table.
type Heuristics struct {
	LongFormChars   int      `yaml:"long_form_chars"`
	ComplexTerms    []string `yaml:"complex_terms"`
	AnalyticalTerms []string `yaml:"analytical_terms"`
	SimpleTerms     []string `yaml:"simple_terms"`
	CriticalTerms   []string `yaml:"critical_terms"`
}

// DefaultHeuristics returns the stock vocabulary lists.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		LongFormChars: 1000,
		ComplexTerms: []string{
			"analyze", "architecture", "comprehensive", "detailed", "in-depth",
			"rigorous", "proof", "algorithm", "optimize", "trade-off",
		},
		AnalyticalTerms: []string{
			"compare", "evaluate", "reason", "explain why", "step by step",
			"pros and cons", "root cause",
		},
		SimpleTerms: []string{
			"hello", "thanks", "summarize", "translate", "what is",
			"define", "reword",
		},
		CriticalTerms: []string{
			"medical", "diagnosis", "legal", "lawsuit", "financial advice",
			"investment", "safety", "production", "compliance", "emergency",
		},
	}
}

// Thresholds are the decision-table cut points. They are deliberately
// conservative and tunable; the defaults are starting points, not validated
// constants.
type Thresholds struct {
	HighComplexity float64 `yaml:"high_complexity"`
	LowComplexity  float64 `yaml:"low_complexity"`
	MidComplexity  float64 `yaml:"mid_complexity"`
	Quality        float64 `yaml:"quality"`
}

// DefaultThresholds returns the stock cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighComplexity: 0.8,
		LowComplexity:  0.3,
		MidComplexity:  0.6,
		Quality:        0.75,
	}
}

// Classifier decides whether a request can be served by a cheaper model
// without unacceptable quality loss. Pure function of its inputs; safe for
// unrestricted concurrent use.
type Classifier struct {
	heuristics    Heuristics
	thresholds    Thresholds
	substitutions map[string]string // premium model -> cheaper equivalent
	cheapestModel string
	logger        *logrus.Logger
}

// New creates a classifier. substitutions maps premium models to their
// designated mid-tier substitutes; cheapestModel is the target for
// low-complexity requests.
func New(heuristics Heuristics, thresholds Thresholds, substitutions map[string]string, cheapestModel string, logger *logrus.Logger) *Classifier {
	subs := make(map[string]string, len(substitutions))
	for k, v := range substitutions {
		subs[k] = v
	}
	return &Classifier{
		heuristics:    heuristics,
		thresholds:    thresholds,
		substitutions: subs,
		cheapestModel: cheapestModel,
		logger:        logger,
	}
}

// ComplexityScore scores message text in [0,1]. Higher means the request
// likely needs a stronger model.
func (c *Classifier) ComplexityScore(text string) float64 {
	lower := strings.ToLower(text)
	score := baselineScore

	if len(text) > c.heuristics.LongFormChars {
		score += longFormWeight
	}
	if containsAny(lower, c.heuristics.ComplexTerms) {
		score += complexWeight
	}
	if containsAny(lower, c.heuristics.AnalyticalTerms) {
		score += analyticalWeight
	}
	if containsAny(lower, c.heuristics.SimpleTerms) {
		score -= simplicityWeight
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// IsCritical reports whether the text implies a high-stakes domain. A
// critical request is a hard veto on routing regardless of complexity.
func (c *Classifier) IsCritical(text string) bool {
	return containsAny(strings.ToLower(text), c.heuristics.CriticalTerms)
}

// Decide applies the decision table to one request. It never errors; any
// inability to score falls back to not routing.
func (c *Classifier) Decide(requestedModel string, messages []types.ChatMessage, taskType string) *types.RoutingDecision {
	decision := &types.RoutingDecision{
		RequestedModel: requestedModel,
		TargetModel:    requestedModel,
		ShouldRoute:    false,
	}

	if len(messages) == 0 {
		decision.Confidence = confidenceHigh
		decision.Reasoning = []string{"No messages to score, keeping requested model"}
		return decision
	}

	text := combineText(messages)
	decision.Complexity = c.ComplexityScore(text)
	decision.Critical = c.IsCritical(text)

	switch {
	case decision.Complexity > c.thresholds.HighComplexity || decision.Critical:
		// Riskiest requests always win the veto.
		decision.Confidence = confidenceHigh
		if decision.Critical {
			decision.Reasoning = []string{"High-stakes vocabulary detected, routing vetoed"}
		} else {
			decision.Reasoning = []string{"High complexity requires the requested model"}
		}

	case decision.Complexity < c.thresholds.LowComplexity:
		decision.TargetModel = c.cheapestModel
		decision.ShouldRoute = decision.TargetModel != requestedModel &&
			confidenceHigh >= c.thresholds.Quality
		decision.Confidence = confidenceHigh
		decision.Reasoning = []string{"Low complexity, routing to cheapest model"}

	case decision.Complexity < c.thresholds.MidComplexity && taskType == "simple":
		substitute, ok := c.substitutions[requestedModel]
		if ok && substitute != requestedModel {
			decision.TargetModel = substitute
			decision.ShouldRoute = confidenceModerate >= c.thresholds.Quality
			decision.Confidence = confidenceModerate
			decision.Reasoning = []string{"Simple task, substituting cheaper equivalent"}
		} else {
			decision.Confidence = confidenceModerate
			decision.Reasoning = []string{"Simple task but no substitute defined"}
		}

	default:
		decision.Confidence = confidenceModerate
		decision.Reasoning = []string{"Complexity inconclusive, keeping requested model"}
	}

	if !decision.ShouldRoute {
		decision.TargetModel = requestedModel
	}

	c.logger.WithFields(logrus.Fields{
		"requested_model": requestedModel,
		"target_model":    decision.TargetModel,
		"should_route":    decision.ShouldRoute,
		"complexity":      decision.Complexity,
		"critical":        decision.Critical,
	}).Debug("Routing decision")

	return decision
}

// combineText concatenates message content for scoring.
func combineText(messages []types.ChatMessage) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

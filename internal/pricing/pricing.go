package pricing

import (
	"fmt"
	"strings"
)

// Tier is the access class of a model, gating which subscription plans may
// use it.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// tierRank orders tiers so a plan at rank N may use any model at rank <= N.
var tierRank = map[Tier]int{
	TierFree:     0,
	TierStandard: 1,
	TierPremium:  2,
}

// Entry holds per-model token pricing. Prices are USD per 1K tokens.
type Entry struct {
	Model           string  `yaml:"model"`
	Provider        string  `yaml:"provider"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
	Tier            Tier    `yaml:"tier"`
}

// Catalog is the immutable pricing table, loaded once at startup.
type Catalog struct {
	entries       map[string]Entry
	fallbackModel string
	cheapestModel string
}

// NewCatalog builds a catalog from the configured entries. fallbackModel is
// used to price unknown models; cheapestModel is the routing target for
// low-complexity requests. Both must exist in the table.
func NewCatalog(entries []Entry, fallbackModel, cheapestModel string) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("pricing catalog cannot be empty")
	}

	byModel := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.Model == "" {
			return nil, fmt.Errorf("pricing entry with empty model name")
		}
		if e.InputCostPer1K <= 0 || e.OutputCostPer1K <= 0 {
			return nil, fmt.Errorf("model %s: prices must be positive", e.Model)
		}
		if e.OutputCostPer1K < e.InputCostPer1K {
			return nil, fmt.Errorf("model %s: output price below input price", e.Model)
		}
		if _, ok := tierRank[e.Tier]; !ok {
			return nil, fmt.Errorf("model %s: unknown tier %q", e.Model, e.Tier)
		}
		byModel[e.Model] = e
	}

	if _, ok := byModel[fallbackModel]; !ok {
		return nil, fmt.Errorf("fallback model %s not in catalog", fallbackModel)
	}
	if _, ok := byModel[cheapestModel]; !ok {
		return nil, fmt.Errorf("cheapest model %s not in catalog", cheapestModel)
	}

	return &Catalog{
		entries:       byModel,
		fallbackModel: fallbackModel,
		cheapestModel: cheapestModel,
	}, nil
}

// Lookup returns the pricing entry for a model. Unknown models resolve to
// the fallback entry so cost calculations never fail on missing data; the
// second return reports whether the model was known.
func (c *Catalog) Lookup(model string) (Entry, bool) {
	if e, ok := c.entries[model]; ok {
		return e, true
	}
	return c.entries[c.fallbackModel], false
}

// Cost computes the USD cost of a call against the given model.
func (c *Catalog) Cost(model string, inputTokens, outputTokens int) float64 {
	e, _ := c.Lookup(model)
	return float64(inputTokens)*e.InputCostPer1K/1000 +
		float64(outputTokens)*e.OutputCostPer1K/1000
}

// CheapestModel returns the designated lowest-cost general model.
func (c *Catalog) CheapestModel() string {
	return c.cheapestModel
}

// FallbackModel returns the model used to price unknown model ids.
func (c *Catalog) FallbackModel() string {
	return c.fallbackModel
}

// Models returns all known model names.
func (c *Catalog) Models() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	return names
}

// TierAllows reports whether a plan tier may use the given model. Unknown
// models are allowed (they are priced via fallback, not access-gated).
func (c *Catalog) TierAllows(plan Tier, model string) bool {
	e, known := c.entries[model]
	if !known {
		return true
	}
	planRank, ok := tierRank[plan]
	if !ok {
		return false
	}
	return tierRank[e.Tier] <= planRank
}

// ParseTier normalizes a tier string from configuration or a plan record.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(s)) {
	case TierFree:
		return TierFree, nil
	case TierStandard:
		return TierStandard, nil
	case TierPremium:
		return TierPremium, nil
	default:
		return "", fmt.Errorf("invalid tier: %s", s)
	}
}

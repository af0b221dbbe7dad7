package risk

import (
	"fmt"

	"github.com/ethersentinel/sentinel/internal/idgen"
)

// fallbackNote is appended to fallback descriptions so a human reading the
// result can tell the model was not consulted.
const fallbackNote = " (rule engine analysis)"

// Confidence assigned to subjects matched by a static rule list. Listed
// addresses skip the hash banding entirely.
const (
	listedScore   = 0.95
	safelistScore = 0.05
)

// Engine is the deterministic fallback rule engine. It never fails and
// never calls out: an assessment is a pure function of the subject
// identifier (plus the optional static rule lists), so the same subject
// always produces the same category, level, and score breakdown.
type Engine struct {
	rules *Rules // optional; nil means hash banding only
}

// NewEngine creates a fallback rule engine.
func NewEngine() *Engine {
	return &Engine{}
}

// WithRules attaches static known-address lists consulted before hash banding.
func (e *Engine) WithRules(r *Rules) *Engine {
	e.rules = r
	return e
}

// AssessAddress produces a degraded assessment for an address.
func (e *Engine) AssessAddress(address string) *Assessment {
	if e.rules != nil {
		if cat, ok := e.rules.Lookup(address); ok {
			return e.build(address, KindAddress, AddressCategories, cat, listScore(cat))
		}
	}

	score := DeriveScore(address)
	return e.build(address, KindAddress, AddressCategories, ClassifyAddress(score), score)
}

// AssessTransaction produces a degraded assessment for a transaction hash.
func (e *Engine) AssessTransaction(txHash string) *Assessment {
	score := DeriveScore(txHash)
	return e.build(txHash, KindTransaction, TransactionCategories, ClassifyTransaction(score), score)
}

// Assess dispatches on subject kind.
func (e *Engine) Assess(subject string, kind Kind) *Assessment {
	if kind == KindTransaction {
		return e.AssessTransaction(subject)
	}
	return e.AssessAddress(subject)
}

// build assembles the degraded assessment. Degraded is always true here:
// results from this engine must never be mistaken for model output.
func (e *Engine) build(subject string, kind Kind, scale []Category, cat Category, score float64) *Assessment {
	return &Assessment{
		ID:          idgen.WithPrefix("asmt_"),
		Subject:     subject,
		Kind:        kind,
		Category:    cat,
		Level:       LevelFor(cat),
		Confidence:  score,
		Description: fmt.Sprintf("%s%s", Describe(cat), fallbackNote),
		Scores:      CrudeScores(scale, cat, score),
		Timestamp:   Now(),
		Degraded:    true,
	}
}

// listScore maps a rule-list category to its fixed score.
func listScore(cat Category) float64 {
	if cat == CategoryNormal {
		return safelistScore
	}
	return listedScore
}

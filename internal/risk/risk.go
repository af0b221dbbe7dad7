// Package risk defines the normalized risk assessment model shared by the
// remote scoring path and the local fallback rule engine.
//
// Every caller-facing result is an Assessment, regardless of which path
// produced it. The Degraded flag is the only externally visible difference
// between a model-served and a fallback-served result.
package risk

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Kind distinguishes the two subject types the platform scores.
type Kind string

const (
	KindAddress     Kind = "address"
	KindTransaction Kind = "transaction"
)

// Category is the predicted risk class for a subject.
//
// Addresses use the fine scale (normal / phishing / scam); transactions use
// the coarse scale (safe / medium_risk / high_risk), mirroring the two
// classification heads of the scoring model.
type Category string

const (
	CategoryNormal   Category = "normal"
	CategoryPhishing Category = "phishing"
	CategoryScam     Category = "scam"

	CategorySafe       Category = "safe"
	CategoryMediumRisk Category = "medium_risk"
	CategoryHighRisk   Category = "high_risk"
)

// Level is the severity tier derived from a category.
type Level string

const (
	LevelSafe   Level = "safe"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// AddressCategories is the full address scale, in placeholder-weight order.
var AddressCategories = []Category{CategoryNormal, CategoryPhishing, CategoryScam}

// TransactionCategories is the full transaction scale, in placeholder-weight order.
var TransactionCategories = []Category{CategorySafe, CategoryMediumRisk, CategoryHighRisk}

// levels maps each category to its severity tier. The mapping is fixed:
// Level is always a pure function of Category.
var levels = map[Category]Level{
	CategoryNormal:   LevelSafe,
	CategoryPhishing: LevelHigh,
	CategoryScam:     LevelMedium,

	CategorySafe:       LevelLow,
	CategoryMediumRisk: LevelMedium,
	CategoryHighRisk:   LevelHigh,
}

// LevelFor returns the severity tier for a category.
func LevelFor(c Category) Level {
	if l, ok := levels[c]; ok {
		return l
	}
	return LevelMedium
}

// descriptions are the fixed human-readable explanations per category.
var descriptions = map[Category]string{
	CategoryNormal:   "Address behavior is normal, no security threat detected",
	CategoryPhishing: "Phishing activity detected, assets may be at risk of theft",
	CategoryScam:     "Scam behavior detected, possibly involving fraudulent transactions",

	CategorySafe:       "Transaction looks safe",
	CategoryMediumRisk: "Transaction shows medium-risk patterns",
	CategoryHighRisk:   "Transaction shows high-risk patterns",
}

// Describe returns the fixed description for a category.
func Describe(c Category) string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return "Unknown risk category"
}

// Zone is the fixed timezone assessments are stamped in. The upstream
// system pinned UTC+8 so results are byte-reproducible across hosts; we
// keep the same offset.
var Zone = time.FixedZone("UTC+8", 8*60*60)

// Now returns the current time in the assessment timezone.
func Now() time.Time {
	return time.Now().In(Zone)
}

// Assessment is the normalized result of scoring one subject.
type Assessment struct {
	ID          string               `json:"id,omitempty"`
	Subject     string               `json:"subject"`
	Kind        Kind                 `json:"kind"`
	Category    Category             `json:"risk_type"`
	Level       Level                `json:"risk_level"`
	Confidence  float64              `json:"confidence"`
	Description string               `json:"description"`
	Scores      map[Category]float64 `json:"prediction_scores"`
	Timestamp   time.Time            `json:"timestamp"`
	Degraded    bool                 `json:"degraded"`
}

// Store persists assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	ListBySubject(ctx context.Context, subject string, limit int) ([]*Assessment, error)
	ListRecent(ctx context.Context, limit int) ([]*Assessment, error)
}

// DeriveScore maps a subject identifier to a deterministic score in [0, 1).
// Keccak-256 keeps the value stable across processes and runs, unlike the
// runtime-seeded hash the legacy system used. Same identifier, same score.
func DeriveScore(subject string) float64 {
	sum := crypto.Keccak256([]byte(subject))
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v%100) / 100.0
}

// Banding thresholds. Strictly greater-than on both boundaries: a score of
// exactly 0.70 lands in the middle band, exactly 0.30 in the safe band.
const (
	highBand = 0.70
	midBand  = 0.30
)

// ClassifyAddress assigns an address score to a category band.
func ClassifyAddress(score float64) Category {
	switch {
	case score > highBand:
		return CategoryPhishing
	case score > midBand:
		return CategoryScam
	default:
		return CategoryNormal
	}
}

// ClassifyTransaction assigns a transaction score to a category band.
func ClassifyTransaction(score float64) Category {
	switch {
	case score > highBand:
		return CategoryHighRisk
	case score > midBand:
		return CategoryMediumRisk
	default:
		return CategorySafe
	}
}

// placeholderWeights are the fixed weights assigned to non-dominant
// categories, positional over the scale. Deliberately crude: the breakdown
// is an approximation, not a probability distribution, and does not always
// sum to 1. Preserved from the legacy scorer.
var placeholderWeights = []float64{0.3, 0.3, 0.4}

// CrudeScores builds the per-category score breakdown for a scale. The
// dominant category carries the derived score (or its complement for the
// safe band, where a low score means high certainty of safety); the others
// carry fixed placeholders.
func CrudeScores(scale []Category, dominant Category, score float64) map[Category]float64 {
	out := make(map[Category]float64, len(scale))
	for i, c := range scale {
		if c != dominant {
			out[c] = placeholderWeights[i%len(placeholderWeights)]
			continue
		}
		if i == 0 { // safe band: first category of each scale
			out[c] = 1.0 - score
		} else {
			out[c] = score
		}
	}
	return out
}

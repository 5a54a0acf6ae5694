package traceability

import (
	"time"

	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/shopspring/decimal"
)

// TargetRole is an origin tier a transparency score is measured against
type TargetRole string

const (
	TargetMill       TargetRole = "mill"
	TargetPlantation TargetRole = "plantation"
)

// Tier returns the supply-chain tier of the target role
func (r TargetRole) Tier() supplychain.Tier {
	if r == TargetPlantation {
		return supplychain.TierPlantation
	}
	return supplychain.TierMill
}

// ScorePrecision is the number of decimal places scores are rounded to
const ScorePrecision = 6

var (
	scoreZero = decimal.Zero
	scoreOne  = decimal.NewFromInt(1)
)

// Score holds both transparency fractions of an order
type Score struct {
	ToMill       decimal.Decimal `json:"transparency_to_mill"`
	ToPlantation decimal.Decimal `json:"transparency_to_plantation"`
}

// For returns the score for one target role
func (s Score) For(role TargetRole) decimal.Decimal {
	if role == TargetPlantation {
		return s.ToPlantation
	}
	return s.ToMill
}

// normalize clamps both fractions to [0,1], caps plantation at mill and
// rounds to ScorePrecision.
func (s Score) normalize() Score {
	mill := clamp(s.ToMill)
	plantation := clamp(s.ToPlantation)
	if plantation.GreaterThan(mill) {
		plantation = mill
	}
	return Score{
		ToMill:       mill.Round(ScorePrecision),
		ToPlantation: plantation.Round(ScorePrecision),
	}
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(scoreZero) {
		return scoreZero
	}
	if d.GreaterThan(scoreOne) {
		return scoreOne
	}
	return d
}

// Transparency is a score with the time it was computed
type Transparency struct {
	Score
	CalculatedAt time.Time `json:"calculated_at"`
	Version      int       `json:"version"`
}

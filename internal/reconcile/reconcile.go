// Package reconcile converts captured count inputs (slider percentages, stepper counts,
// scale weights, keg fill levels) into units on hand and variance figures.
// Everything here is pure; callers recompute on every input change.
package reconcile

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/xelth-com/tapcount/internal/models"
)

const (
	// PartialStep is the granularity of the manual fill slider
	PartialStep = 5

	// DefaultEmptyWeightGrams is used when a product has no empty-bottle calibration
	DefaultEmptyWeightGrams = 200.0
	// DefaultFullWeightOffsetGrams is added to the bottle size when no full weight is known
	DefaultFullWeightOffsetGrams = 200.0
)

// LargeVarianceUnits is the absolute variance above which a line is flagged
const LargeVarianceUnits = 2

var largeVarianceThreshold = decimal.NewFromInt(LargeVarianceUnits)

// ClampPercent bounds a fill percentage to [0,100]
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// SnapPartial clamps a slider value and rounds it to the nearest step
func SnapPartial(p int) int {
	p = ClampPercent(p)
	return int(math.Round(float64(p)/PartialStep)) * PartialStep
}

// BottleTotal is the open bottle's fill fraction plus sealed backups
func BottleTotal(partialPercent, backup int) float64 {
	if backup < 0 {
		backup = 0
	}
	return float64(ClampPercent(partialPercent))/100 + float64(backup)
}

// PartialVolumeMl converts the open bottle's fill into a volume
func PartialVolumeMl(partialPercent int, bottleSizeMl float64) float64 {
	if bottleSizeMl <= 0 {
		return 0
	}
	return float64(ClampPercent(partialPercent)) * bottleSizeMl / 100
}

// Calibration returns the empty and full weights for a product, falling back to
// defaults for missing or inconsistent data.
func Calibration(p models.Product) (empty, full float64) {
	empty = p.EmptyWeightGrams
	if empty <= 0 || math.IsNaN(empty) {
		empty = DefaultEmptyWeightGrams
	}
	full = p.FullWeightGrams
	if full <= 0 || math.IsNaN(full) {
		full = p.BottleSizeMl + DefaultFullWeightOffsetGrams
	}
	if full <= empty {
		empty = DefaultEmptyWeightGrams
		full = math.Max(p.BottleSizeMl, 0) + DefaultFullWeightOffsetGrams
	}
	return empty, full
}

// ScaleToPercent converts a scale reading into a fill percentage. It never fails:
// unusable readings or calibration yield 0.
func ScaleToPercent(weightGrams float64, p models.Product) int {
	if math.IsNaN(weightGrams) || math.IsInf(weightGrams, 0) {
		return 0
	}
	empty, full := Calibration(p)
	liquidRange := full - empty
	if liquidRange <= 0 {
		return 0
	}
	liquid := math.Max(0, weightGrams-empty)
	return ClampPercent(int(math.Round(liquid / liquidRange * 100)))
}

// KegFraction is the remaining fraction of a tapped keg. A live sensor level wins over
// the stored remaining percentage.
func KegFraction(k models.TappedKeg, live map[int]float64) float64 {
	pct := k.RemainingPercent
	if v, ok := live[k.TapNumber]; ok && !math.IsNaN(v) {
		pct = v
	}
	return math.Min(math.Max(pct, 0), 100) / 100
}

// KegTotal sums tapped-keg fractions and cooler stock. A nil summary is still loading:
// the total is 0 and ok is false, meaning the figure must not be saved.
func KegTotal(summary *models.KegSummary, live map[int]float64, cooler int) (total float64, ok bool) {
	if summary == nil {
		return 0, false
	}
	if cooler < 0 {
		cooler = 0
	}
	for _, k := range summary.TappedKegs {
		total += KegFraction(k, live)
	}
	return total + float64(cooler), true
}

// Variance is counted minus expected, computed exactly
func Variance(counted, expected float64) decimal.Decimal {
	return decimal.NewFromFloat(counted).Sub(decimal.NewFromFloat(expected))
}

// IsLargeVariance flags a variance whose magnitude exceeds the fixed threshold
func IsLargeVariance(v decimal.Decimal) bool {
	return v.Abs().GreaterThan(largeVarianceThreshold)
}

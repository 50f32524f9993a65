package reconcile

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Line is one product's row in a variance report
type Line struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	IsKeg       bool            `json:"is_keg"`
	Expected    float64         `json:"expected"`
	Counted     float64         `json:"counted"`
	Variance    decimal.Decimal `json:"variance"`
	Large       bool            `json:"is_large_variance"`
}

// NewLine compares a counted total against the expected total
func NewLine(productID int64, name string, isKeg bool, counted, expected float64) Line {
	v := Variance(counted, expected)
	return Line{
		ProductID:   productID,
		ProductName: name,
		IsKeg:       isKeg,
		Expected:    expected,
		Counted:     counted,
		Variance:    v,
		Large:       IsLargeVariance(v),
	}
}

// Report aggregates lines for a session
type Report struct {
	SessionID  int64   `json:"session_id"`
	ZoneID     int64   `json:"zone_id"`
	Lines      []Line  `json:"lines"`
	LargeCount int     `json:"large_variance_count"`
	Total      float64 `json:"total_counted_units"`
}

// BuildReport orders lines by product name and tallies flagged rows
func BuildReport(sessionID, zoneID int64, lines []Line) Report {
	sort.SliceStable(lines, func(i, j int) bool {
		a, b := strings.ToLower(lines[i].ProductName), strings.ToLower(lines[j].ProductName)
		if a == b {
			return lines[i].ProductID < lines[j].ProductID
		}
		return a < b
	})

	r := Report{SessionID: sessionID, ZoneID: zoneID, Lines: lines}
	total := decimal.Zero
	for _, l := range lines {
		if l.Large {
			r.LargeCount++
		}
		total = total.Add(decimal.NewFromFloat(l.Counted))
	}
	r.Total = total.InexactFloat64()
	return r
}

// Flagged returns only the lines over the variance threshold
func (r Report) Flagged() []Line {
	out := make([]Line, 0, r.LargeCount)
	for _, l := range r.Lines {
		if l.Large {
			out = append(out, l)
		}
	}
	return out
}

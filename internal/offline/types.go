package offline

import (
	"errors"
	"time"

	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/reconcile"
)

// ErrRejected marks a replay the server refused for good (validation, closed session).
// Rejected entries are dropped instead of retried.
var ErrRejected = errors.New("count rejected by server")

// OfflineCount is a self-contained snapshot of a count captured while disconnected.
// PartialPercent stays raw; the volume is rebuilt from BottleSizeMl at replay time.
type OfflineCount struct {
	ID               string    `json:"id"`
	Seq              int64     `json:"seq"`
	SessionID        int64     `json:"session_id"`
	ProductID        int64     `json:"product_id"`
	ProductName      string    `json:"product_name"`
	CountedBottles   int       `json:"counted_bottles"`
	PartialPercent   int       `json:"partial_percent"`
	TotalUnits       float64   `json:"total_units"`
	IsManualEstimate bool      `json:"is_manual_estimate"`
	ScaleWeightGrams *float64  `json:"scale_weight_grams,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	BottleSizeMl     float64   `json:"bottle_size_ml"`
	IsKeg            bool      `json:"is_keg"`
	Attempts         int       `json:"attempts,omitempty"`
}

// Record rebuilds the saveCount payload using only the entry's own fields
func (c OfflineCount) Record() models.CountRecord {
	rec := models.CountRecord{
		SessionID:        c.SessionID,
		ProductID:        c.ProductID,
		CountedBottles:   c.CountedBottles,
		TotalUnits:       c.TotalUnits,
		IsManualEstimate: c.IsManualEstimate,
		ScaleWeightGrams: c.ScaleWeightGrams,
		IsKeg:            c.IsKeg,
		CountedAt:        c.Timestamp,
	}
	if !c.IsKeg {
		vol := reconcile.PartialVolumeMl(c.PartialPercent, c.BottleSizeMl)
		rec.PartialVolumeMl = &vol
	}
	return rec
}

// Prefs are station settings that survive a restart. Nil fields were never set.
type Prefs struct {
	QuickScan *bool `json:"quick_scan,omitempty"`
}

// SyncResult summarizes one replay pass
type SyncResult struct {
	Attempted int `json:"attempted"`
	Replayed  int `json:"replayed"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Clean reports whether nothing is left waiting
func (r SyncResult) Clean() bool { return r.Remaining == 0 }

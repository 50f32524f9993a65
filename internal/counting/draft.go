package counting

import (
	"time"

	"github.com/xelth-com/tapcount/internal/models"
	"github.com/xelth-com/tapcount/internal/offline"
	"github.com/xelth-com/tapcount/internal/reconcile"
)

// Quantity is the reserve stock of a count: sealed bottles or cooler kegs.
// Both travel as counted_bottles on the wire.
type Quantity interface {
	Units() int
	isQuantity()
}

// BottleQuantity is the number of sealed backup bottles/cans
type BottleQuantity struct{ Backup int }

// KegQuantity is the number of full kegs in the cooler
type KegQuantity struct{ Cooler int }

func (q BottleQuantity) Units() int { return q.Backup }
func (q KegQuantity) Units() int    { return q.Cooler }
func (BottleQuantity) isQuantity()  {}
func (KegQuantity) isQuantity()     {}

// QuantityOf decodes a stored count's counted_bottles by branching on product type
func QuantityOf(c models.InventoryCount) Quantity {
	if c.IsKeg {
		return KegQuantity{Cooler: c.CountedBottles}
	}
	return BottleQuantity{Backup: c.CountedBottles}
}

// CountData is a captured product count held for the active session
type CountData struct {
	ProductID        int64
	ProductName      string
	Quantity         Quantity
	PartialPercent   int      // raw slider value, zero for kegs
	PartialVolumeMl  *float64 // nil for kegs
	BottleSizeMl     float64
	TotalUnits       float64
	IsManualEstimate bool
	ScaleWeightGrams *float64
	CountedAt        time.Time
}

// IsKeg reports the product type the count was captured for
func (c CountData) IsKeg() bool {
	_, ok := c.Quantity.(KegQuantity)
	return ok
}

// Record serializes the count into the saveCount payload
func (c CountData) Record(sessionID int64) models.CountRecord {
	return models.CountRecord{
		SessionID:        sessionID,
		ProductID:        c.ProductID,
		CountedBottles:   c.Quantity.Units(),
		PartialVolumeMl:  c.PartialVolumeMl,
		TotalUnits:       c.TotalUnits,
		IsManualEstimate: c.IsManualEstimate,
		ScaleWeightGrams: c.ScaleWeightGrams,
		IsKeg:            c.IsKeg(),
		CountedAt:        c.CountedAt,
	}
}

// Offline builds the denormalized queue entry; the raw percentage is kept so the
// volume can be rebuilt from the entry alone.
func (c CountData) Offline(sessionID int64) offline.OfflineCount {
	return offline.OfflineCount{
		SessionID:        sessionID,
		ProductID:        c.ProductID,
		ProductName:      c.ProductName,
		CountedBottles:   c.Quantity.Units(),
		PartialPercent:   c.PartialPercent,
		TotalUnits:       c.TotalUnits,
		IsManualEstimate: c.IsManualEstimate,
		ScaleWeightGrams: c.ScaleWeightGrams,
		Timestamp:        c.CountedAt,
		BottleSizeMl:     c.BottleSizeMl,
		IsKeg:            c.IsKeg(),
	}
}

// Draft is the per-product input state while in input mode. Totals are derived on every
// read, never stored.
type Draft struct {
	product        models.Product
	partialPercent int
	backup         int
	cooler         int
	scaleWeight    *float64
	manual         bool
	kegs           *models.KegSummary
	live           map[int]float64
}

// NewDraft resets the inputs for a product, seeding reserves from its stored backup count
func NewDraft(p models.Product) *Draft {
	d := &Draft{product: p, manual: true}
	if p.IsKeg() {
		d.cooler = max(p.BackupCount, 0)
	} else {
		d.backup = max(p.BackupCount, 0)
	}
	return d
}

func (d *Draft) Product() models.Product { return d.product }
func (d *Draft) PartialPercent() int     { return d.partialPercent }
func (d *Draft) Backup() int             { return d.backup }
func (d *Draft) Cooler() int             { return d.cooler }
func (d *Draft) IsManualEstimate() bool  { return d.manual }

// ScaleWeight returns the captured scale reading, nil when the partial was set by hand
func (d *Draft) ScaleWeight() *float64 {
	if d.scaleWeight == nil {
		return nil
	}
	w := *d.scaleWeight
	return &w
}

// KegSummary returns nil while the summary is loading
func (d *Draft) KegSummary() *models.KegSummary { return d.kegs }

// SetPartialPercent is a manual slider move. It discards any scale reading.
func (d *Draft) SetPartialPercent(p int) {
	d.partialPercent = reconcile.SnapPartial(p)
	d.manual = true
	d.scaleWeight = nil
}

// ApplyScaleWeight derives the partial from a scale reading
func (d *Draft) ApplyScaleWeight(grams float64) {
	d.partialPercent = reconcile.ScaleToPercent(grams, d.product)
	d.scaleWeight = &grams
	d.manual = false
}

func (d *Draft) SetBackup(n int) { d.backup = max(n, 0) }
func (d *Draft) SetCooler(n int) { d.cooler = max(n, 0) }

func (d *Draft) setKegSummary(s *models.KegSummary) {
	d.kegs = s
	if s != nil {
		d.cooler = s.OnDeckCount
	}
}

func (d *Draft) setLiveLevels(levels map[int]float64) {
	d.live = make(map[int]float64, len(levels))
	for tap, v := range levels {
		d.live[tap] = v
	}
}

// Ready reports whether the current inputs can be saved
func (d *Draft) Ready() bool {
	return !d.product.IsKeg() || d.kegs != nil
}

// Total is the reconciled units on hand for the current inputs
func (d *Draft) Total() float64 {
	if d.product.IsKeg() {
		total, _ := reconcile.KegTotal(d.kegs, d.live, d.cooler)
		return total
	}
	return reconcile.BottleTotal(d.partialPercent, d.backup)
}

// Count freezes the draft into CountData
func (d *Draft) Count(at time.Time) (CountData, error) {
	if !d.Ready() {
		return CountData{}, ErrKegNotReady
	}
	c := CountData{
		ProductID:        d.product.ID,
		ProductName:      d.product.Name,
		BottleSizeMl:     d.product.BottleSizeMl,
		TotalUnits:       d.Total(),
		IsManualEstimate: d.manual,
		ScaleWeightGrams: d.ScaleWeight(),
		CountedAt:        at,
	}
	if d.product.IsKeg() {
		c.Quantity = KegQuantity{Cooler: d.cooler}
		c.IsManualEstimate = true
		c.ScaleWeightGrams = nil
		return c, nil
	}
	vol := reconcile.PartialVolumeMl(d.partialPercent, d.product.BottleSizeMl)
	c.Quantity = BottleQuantity{Backup: d.backup}
	c.PartialPercent = d.partialPercent
	c.PartialVolumeMl = &vol
	return c, nil
}

func (d *Draft) clone() *Draft {
	cp := *d
	cp.scaleWeight = d.ScaleWeight()
	if d.live != nil {
		cp.setLiveLevels(d.live)
	}
	if d.kegs != nil {
		k := *d.kegs
		k.TappedKegs = append([]models.TappedKeg(nil), d.kegs.TappedKegs...)
		cp.kegs = &k
	}
	return &cp
}

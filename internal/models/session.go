package models

import "time"

// SessionStatus is the lifecycle state of an inventory session
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// InventorySession is one counting pass over a zone.
// The partial unique index allows a single in_progress row across all zones.
type InventorySession struct {
	ID          int64         `gorm:"primaryKey" json:"id"`
	ZoneID      int64         `gorm:"index;not null" json:"zone_id"`
	Status      SessionStatus `gorm:"type:varchar(20);not null;default:'in_progress';uniqueIndex:idx_single_active_session,where:status = 'in_progress'" json:"status"`
	StartedAt   time.Time     `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`

	// Set on start responses when an existing in_progress session was returned
	Resumed bool `gorm:"-" json:"resumed,omitempty"`

	Zone   *Zone            `gorm:"foreignKey:ZoneID" json:"zone,omitempty"`
	Counts []InventoryCount `gorm:"foreignKey:SessionID" json:"counts,omitempty"`
}

func (InventorySession) TableName() string { return "inventory_sessions" }

// IsActive reports whether counts may still be recorded against the session.
func (s InventorySession) IsActive() bool { return s.Status == SessionInProgress }

// InventoryCount is a persisted product count inside a session.
// CountedBottles holds sealed backups for bottles and cooler kegs for kegs; IsKeg selects the meaning.
type InventoryCount struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	SessionID        int64     `gorm:"not null;uniqueIndex:idx_session_product" json:"session_id"`
	ProductID        int64     `gorm:"not null;uniqueIndex:idx_session_product" json:"product_id"`
	CountedBottles   int       `gorm:"not null;default:0" json:"counted_bottles"`
	PartialVolumeMl  *float64  `json:"partial_volume_ml"`
	TotalUnits       float64   `gorm:"not null;default:0" json:"total_units"`
	ExpectedUnits    float64   `gorm:"not null;default:0" json:"expected_units"`
	IsManualEstimate bool      `gorm:"default:true" json:"is_manual_estimate"`
	ScaleWeightGrams *float64  `json:"scale_weight_grams"`
	IsKeg            bool      `gorm:"default:false" json:"is_keg"`
	CountedAt        time.Time `json:"counted_at"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (InventoryCount) TableName() string { return "inventory_counts" }

// CountRecord is the saveCount payload exchanged between a counting station and the server.
type CountRecord struct {
	SessionID        int64    `json:"session_id" validate:"required,gt=0"`
	ProductID        int64    `json:"product_id" validate:"required,gt=0"`
	CountedBottles   int      `json:"counted_bottles" validate:"gte=0"`
	PartialVolumeMl  *float64 `json:"partial_volume_ml" validate:"omitempty,gte=0"`
	TotalUnits       float64  `json:"total_units" validate:"gte=0"`
	IsManualEstimate bool     `json:"is_manual_estimate"`
	ScaleWeightGrams *float64 `json:"scale_weight_grams" validate:"omitempty,gte=0"`
	IsKeg            bool     `json:"is_keg"`
	// CountedAt is when the station captured the count. Zero means now.
	CountedAt time.Time `json:"counted_at,omitzero"`
}

// ToCount converts the payload into a storable row. at is used when the record carries no
// capture time.
func (r CountRecord) ToCount(at time.Time) InventoryCount {
	if !r.CountedAt.IsZero() {
		at = r.CountedAt.UTC()
	}
	return InventoryCount{
		SessionID:        r.SessionID,
		ProductID:        r.ProductID,
		CountedBottles:   r.CountedBottles,
		PartialVolumeMl:  r.PartialVolumeMl,
		TotalUnits:       r.TotalUnits,
		IsManualEstimate: r.IsManualEstimate,
		ScaleWeightGrams: r.ScaleWeightGrams,
		IsKeg:            r.IsKeg,
		CountedAt:        at,
	}
}

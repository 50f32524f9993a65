package models

import (
	"time"

	"gorm.io/datatypes"
)

// KegStatus tracks where a physical keg is
type KegStatus string

const (
	KegOnDeck KegStatus = "on_deck" // full, in the cooler
	KegTapped KegStatus = "tapped"  // connected to a tap line
	KegEmpty  KegStatus = "empty"
)

// Keg is one physical keg of a volume-sold product.
type Keg struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	ProductID        int64      `gorm:"index;not null" json:"product_id"`
	Status           KegStatus  `gorm:"type:varchar(20);index;not null;default:'on_deck'" json:"status"`
	TapNumber        *int       `gorm:"index" json:"tap_number,omitempty"`
	RemainingPercent float64    `gorm:"default:100" json:"remaining_percent"`
	TappedAt         *time.Time `json:"tapped_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Keg) TableName() string { return "kegs" }

// Tap is a numbered tap line and its latest sensor reading.
type Tap struct {
	Number            int        `gorm:"primaryKey;autoIncrement:false" json:"number"`
	KegID             *int64     `json:"keg_id,omitempty"`
	SensorFillPercent *float64   `json:"sensor_fill_percent,omitempty"`
	SensorUpdatedAt   *time.Time `json:"sensor_updated_at,omitempty"`
}

func (Tap) TableName() string { return "taps" }

// KegSensorReading keeps the raw payload of every reading pushed by the sensor integration.
type KegSensorReading struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	TapNumber   int            `gorm:"index;not null" json:"tap_number"`
	FillPercent float64        `json:"fill_percent"`
	Raw         datatypes.JSON `gorm:"type:jsonb" json:"raw,omitempty"`
	ReadAt      time.Time      `gorm:"index" json:"read_at"`
}

func (KegSensorReading) TableName() string { return "keg_sensor_readings" }

// TappedKeg is a keg currently on a tap, as seen by a counting station.
type TappedKeg struct {
	KegID            int64   `json:"keg_id"`
	TapNumber        int     `json:"tap_number"`
	RemainingPercent float64 `json:"remaining_percent"`
}

// KegSummary aggregates the kegs of one product. Not persisted.
type KegSummary struct {
	ProductID          int64       `json:"product_id"`
	TappedKegs         []TappedKeg `json:"tapped_kegs"`
	OnDeckCount        int         `json:"on_deck_count"`
	TotalKegEquivalent float64     `json:"total_keg_equivalent"`
}

// TapNumbers lists the taps serving the product.
func (s KegSummary) TapNumbers() []int {
	taps := make([]int, 0, len(s.TappedKegs))
	for _, k := range s.TappedKegs {
		taps = append(taps, k.TapNumber)
	}
	return taps
}

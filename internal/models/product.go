package models

import (
	"strings"
	"time"
)

// Product is a countable item: a bottle/can SKU or a keg beer (IsSoldByVolume).
type Product struct {
	ID                  int64   `gorm:"primaryKey" json:"id"`
	Name                string  `gorm:"not null" json:"name"`
	Barcode             string  `gorm:"index" json:"barcode,omitempty"`
	UPC                 string  `gorm:"index" json:"upc,omitempty"`
	IsSoldByVolume      bool    `gorm:"default:false" json:"is_sold_by_volume"`
	BottleSizeMl        float64 `json:"bottle_size_ml"`
	EmptyWeightGrams    float64 `json:"empty_weight_grams"`
	FullWeightGrams     float64 `json:"full_weight_grams"`
	BackupCount         int     `gorm:"default:0" json:"backup_count"`
	CurrentCountBottles float64 `gorm:"default:0" json:"current_count_bottles"`
	Active              bool    `gorm:"default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Zones []Zone `gorm:"many2many:product_zones" json:"-"`

	// Flattened zone membership for the wire and the device-side catalog snapshot
	ZoneIDs []int64 `gorm:"-" json:"zone_ids,omitempty"`
}

func (Product) TableName() string { return "products" }

// IsKeg reports whether the product is counted in kegs rather than bottles.
func (p Product) IsKeg() bool { return p.IsSoldByVolume }

// InZone reports zone membership. Products without any zone are listed everywhere.
func (p Product) InZone(zoneID int64) bool {
	if len(p.ZoneIDs) == 0 {
		return true
	}
	for _, id := range p.ZoneIDs {
		if id == zoneID {
			return true
		}
	}
	return false
}

// MatchesCode reports whether a scanned code resolves to this product.
func (p Product) MatchesCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	return p.Barcode == code || p.UPC == code
}

// FlattenZones fills ZoneIDs from the loaded Zones relation.
func (p *Product) FlattenZones() {
	if len(p.Zones) == 0 {
		return
	}
	p.ZoneIDs = make([]int64, 0, len(p.Zones))
	for _, z := range p.Zones {
		p.ZoneIDs = append(p.ZoneIDs, z.ID)
	}
}

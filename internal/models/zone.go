package models

import "time"

// Zone is a physical storage or service area that gets counted ("Main Bar Cooler").
type Zone struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Zone) TableName() string { return "zones" }

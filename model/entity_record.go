package model

import (
	"time"

	"gorm.io/datatypes"
)

// EntityRecord is one wiki entity in the SQL table store, keyed by its
// resource and code. Data holds the entity JSON verbatim.
type EntityRecord struct {
	Resource  string         `gorm:"primaryKey;size:64" json:"resource"`
	Code      string         `gorm:"primaryKey;size:128" json:"code"`
	Data      datatypes.JSON `gorm:"not null" json:"data"`
	CreatedAt int64          `gorm:"autoCreateTime:nano;index:idx_entity_order" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EntityRecord) TableName() string { return "entities" }

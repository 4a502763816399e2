package models

import "time"

// Setting is a key/category configuration value owned by operators.
type Setting struct {
	Key       string    `gorm:"column:key;primaryKey;size:128"`
	Category  string    `gorm:"column:category;primaryKey;size:64"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedBy *string   `gorm:"column:updated_by"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import "time"

// Approver lists a user eligible to decide for a role.
type Approver struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	Role      string    `gorm:"column:role;primaryKey"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

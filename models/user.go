package models

import "time"

// EntityTypeUser is the synced entity type carrying login records.
const EntityTypeUser = "user"

// User is the tenant-scoped login record. Passwords are verified against
// this row after the tenant schema is activated. Rows arrive through sync
// as entity type "user"; RemoteId is the remote entity id.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:64;index" json:"tenant_id"`
	RemoteId  string    `gorm:"size:100;index" json:"remote_id"`
	Email     string    `gorm:"size:255;not null;unique" json:"email"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"password"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	Roles     []byte    `gorm:"type:json" json:"roles"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Active treats a missing flag as active.
func (u User) Active() bool {
	return u.IsActive == nil || *u.IsActive
}

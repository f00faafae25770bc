package models

import "time"

// LocalRecord is the locally synchronized copy of one remote entity row.
type LocalRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantId   string    `gorm:"size:64;not null;uniqueIndex:uniq_local_record" json:"tenant_id"`
	EntityType string    `gorm:"size:100;not null;uniqueIndex:uniq_local_record" json:"entity_type"`
	EntityId   string    `gorm:"size:100;not null;uniqueIndex:uniq_local_record" json:"entity_id"`
	Payload    []byte    `gorm:"type:json" json:"payload"`
	Version    int64     `gorm:"not null;default:0" json:"version"`
	Deleted    bool      `gorm:"not null;default:false" json:"deleted"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LocalRecord) TableName() string    { return "local_records" }
func (LocalRecord) TenantColumn() string { return "tenant_id" }

// SyncCheckpoint is the pull position for one tenant/device pair.
type SyncCheckpoint struct {
	TenantId       string     `gorm:"size:64;primaryKey" json:"tenant_id"`
	DeviceId       string     `gorm:"size:64;primaryKey" json:"device_id"`
	Cursor         string     `gorm:"size:255" json:"cursor"`
	BootstrappedAt *time.Time `json:"bootstrapped_at"`
	LastPullAt     *time.Time `json:"last_pull_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SyncCheckpoint) TableName() string    { return "sync_checkpoints" }
func (SyncCheckpoint) TenantColumn() string { return "tenant_id" }

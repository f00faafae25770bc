package models

import (
	"strconv"
	"time"
)

type OutboxOperation string

const (
	OutboxOperationCreate OutboxOperation = "create"
	OutboxOperationUpdate OutboxOperation = "update"
	OutboxOperationDelete OutboxOperation = "delete"
)

func (o OutboxOperation) Valid() bool {
	switch o {
	case OutboxOperationCreate, OutboxOperationUpdate, OutboxOperationDelete:
		return true
	}
	return false
}

// OutboxEntry is a local mutation awaiting remote confirmation. Entries are
// pushed in ID order and deleted once the remote acknowledges them.
type OutboxEntry struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantId   string          `gorm:"size:64;not null;index" json:"tenant_id"`
	EntityType string          `gorm:"size:100;not null;index:idx_outbox_entity" json:"entity_type"`
	EntityId   string          `gorm:"size:100;not null;index:idx_outbox_entity" json:"entity_id"`
	Operation  OutboxOperation `gorm:"size:10;not null" json:"operation"`
	Payload    []byte          `gorm:"type:json" json:"payload"`
	DeviceId   string          `gorm:"size:64;not null" json:"device_id"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (OutboxEntry) TableName() string    { return "sync_outbox" }
func (OutboxEntry) TenantColumn() string { return "tenant_id" }

// IdempotencyKey identifies this entry to the remote across retries.
func (e OutboxEntry) IdempotencyKey() string {
	return e.DeviceId + ":" + strconv.FormatUint(e.ID, 10)
}

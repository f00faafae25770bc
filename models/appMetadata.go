package models

import "time"

const (
	MetadataKeyDeviceId        = "device_id"
	MetadataKeyLastLoginEmail  = "last_login_email"
	MetadataKeyLastLoginSchema = "last_login_schema"
	MetadataKeyLastLoginTenant = "last_login_tenant"
)

// AppMetadata is a device-wide key/value row in the public schema.
type AppMetadata struct {
	Key       string    `gorm:"size:64;primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AppMetadata) TableName() string { return "app_metadata" }

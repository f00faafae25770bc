package models

import (
	"fmt"

	"gorm.io/gorm"
)

// MigratePublic creates the device-wide tables in the public schema.
func MigratePublic(db *gorm.DB) error {
	if err := db.AutoMigrate(&AppMetadata{}, &CredentialCacheEntry{}); err != nil {
		return fmt.Errorf("migrate public schema: %w", err)
	}
	return nil
}

// MigrateTenant creates the sync tables in a tenant schema.
func MigrateTenant(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &OutboxEntry{}, &LocalRecord{}, &SyncCheckpoint{}); err != nil {
		return fmt.Errorf("migrate tenant schema: %w", err)
	}
	return nil
}

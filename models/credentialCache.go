package models

import (
	"strings"
	"time"
)

// CredentialCacheEntry lets a user who logged in online on this device log
// in again while the directory is unreachable.
type CredentialCacheEntry struct {
	Email          string    `gorm:"size:255;primaryKey" json:"email"`
	PasswordHash   string    `gorm:"size:255;not null" json:"-"`
	RolesSnapshot  []byte    `gorm:"type:json" json:"roles_snapshot"`
	TenantId       string    `gorm:"size:64;not null" json:"tenant_id"`
	SchemaName     string    `gorm:"size:64;not null" json:"schema_name"`
	BusinessName   string    `gorm:"size:255" json:"business_name"`
	LastVerifiedAt time.Time `gorm:"not null" json:"last_verified_at"`
	ExpiresAt      time.Time `gorm:"not null;index" json:"expires_at"`
	FailedAttempts int       `gorm:"not null;default:0" json:"failed_attempts"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CredentialCacheEntry) TableName() string { return "credential_cache" }

// Expired reports whether the entry is no longer usable at now.
func (e CredentialCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// NormalizeEmail is the cache key form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

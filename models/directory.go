package models

import "time"

// TenantUser is the shared directory's view of a login identity.
type TenantUser struct {
	Email        string `json:"email"`
	TenantId     string `json:"tenant_id"`
	SchemaName   string `json:"schema_name"`
	BusinessName string `json:"business_name"`
	IsActive     bool   `json:"is_active"`
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

type Subscription struct {
	TenantId  string             `json:"tenant_id"`
	Status    SubscriptionStatus `json:"status"`
	ExpiresAt *time.Time         `json:"expires_at"`
}

// ActiveAt reports whether the subscription allows login at now.
func (s Subscription) ActiveAt(now time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusTrial {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

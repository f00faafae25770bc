package session

import (
	"encoding/json"
	"time"
)

type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Session is an authenticated login on this device.
type Session struct {
	ID           string          `json:"id"`
	Token        string          `json:"token"`
	Email        string          `json:"email"`
	TenantId     string          `json:"tenant_id"`
	Schema       string          `json:"schema"`
	BusinessName string          `json:"business_name"`
	Roles        json.RawMessage `json:"roles,omitempty"`
	Mode         Mode            `json:"mode"`
	IssuedAt     time.Time       `json:"issued_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Expired reports whether s is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

package session

import "context"

// TenantSwitch describes a schema activation that puts existing local data
// at risk.
type TenantSwitch struct {
	FromSchema string
	FromTenant string
	ToSchema   string
	ToTenant   string
	// Unrecorded is set when local data exists but no previous login was
	// recorded on this device.
	Unrecorded bool
}

// Confirmer asks for destructive confirmation before local tenant data is
// cleared. Returning false declines the switch.
type Confirmer interface {
	ConfirmTenantSwitch(ctx context.Context, sw TenantSwitch) (bool, error)
}

type ConfirmFunc func(ctx context.Context, sw TenantSwitch) (bool, error)

func (f ConfirmFunc) ConfirmTenantSwitch(ctx context.Context, sw TenantSwitch) (bool, error) {
	return f(ctx, sw)
}

type confirmKey struct{}

// WithTenantSwitchConfirmed marks ctx as carrying the caller's consent to
// clear local data of another tenant.
func WithTenantSwitchConfirmed(ctx context.Context) context.Context {
	return context.WithValue(ctx, confirmKey{}, true)
}

// ContextConfirmer confirms a switch only when the login context was marked
// with WithTenantSwitchConfirmed.
type ContextConfirmer struct{}

func (ContextConfirmer) ConfirmTenantSwitch(ctx context.Context, _ TenantSwitch) (bool, error) {
	ok, _ := ctx.Value(confirmKey{}).(bool)
	return ok, nil
}

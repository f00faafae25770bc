package store

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/pos_sync/tenant"
)

var ErrNoActiveSchema = errors.New("no active tenant schema")

// Provider hands out stores bound to the pool's clients.
type Provider struct {
	Pool *tenant.Pool
}

func NewProvider(pool *tenant.Pool) *Provider {
	return &Provider{Pool: pool}
}

// TenantStore returns the sync store for the active schema.
func (p *Provider) TenantStore(ctx context.Context) (*SyncStore, error) {
	schema := p.Pool.ActiveSchema()
	if schema == "" {
		return nil, ErrNoActiveSchema
	}
	c, err := p.Pool.Client(ctx, schema)
	if err != nil {
		return nil, err
	}
	return NewSyncStore(c), nil
}

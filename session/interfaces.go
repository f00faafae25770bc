package session

import (
	"context"

	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/store"
	"bitbucket.org/mmdatafocus/pos_sync/syncengine"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
)

// Directory is the shared tenant directory. Lookups return
// utils.ErrorRecordNotFound for unknown emails or tenants.
type Directory interface {
	FindTenantUserByEmail(ctx context.Context, email string) (*models.TenantUser, error)
	FindSubscriptionByTenantID(ctx context.Context, tenantID string) (*models.Subscription, error)
}

// MetadataStore holds the device's last-login markers.
type MetadataStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// LocalData inspects and wipes tenant-scoped local rows.
type LocalData interface {
	HasLocalData(ctx context.Context, schemas ...string) (bool, error)
	ClearForTenantSwitch(ctx context.Context, schemas ...string) error
}

// TenantUsers looks up the login record in the active tenant schema.
type TenantUsers interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type CredentialCache interface {
	Upsert(ctx context.Context, entry *models.CredentialCacheEntry) error
	FindByEmail(ctx context.Context, email string) (*models.CredentialCacheEntry, error)
	RecordFailedAttempt(ctx context.Context, email string) (int, error)
	ResetFailedAttempts(ctx context.Context, email string) error
	DeleteByEmail(ctx context.Context, email string) error
}

// SchemaActivator selects the schema later database work targets.
type SchemaActivator interface {
	SetActiveSchema(schema string)
}

// Engine is the part of the sync engine a login binds.
type Engine interface {
	SetTenantID(tenantID string)
	BootstrapIfNeeded(ctx context.Context) (bool, error)
}

var (
	_ Directory       = (*syncengine.HTTPClient)(nil)
	_ MetadataStore   = (*store.Metadata)(nil)
	_ LocalData       = (*store.LocalData)(nil)
	_ TenantUsers     = (*store.TenantUsers)(nil)
	_ CredentialCache = (*store.CredentialCache)(nil)
	_ SchemaActivator = (*tenant.Pool)(nil)
	_ Engine          = (*syncengine.Engine)(nil)
)

package store

import (
	"context"

	"bitbucket.org/mmdatafocus/pos_sync/appctx"
	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"gorm.io/gorm"
)

// tenantScopedTables are cleared on a confirmed tenant switch.
var tenantScopedTables = []any{
	&models.OutboxEntry{},
	&models.LocalRecord{},
	&models.SyncCheckpoint{},
}

// LocalData runs bulk operations across whole tenant schemas.
type LocalData struct {
	pool *tenant.Pool
}

func NewLocalData(pool *tenant.Pool) *LocalData {
	return &LocalData{pool: pool}
}

// HasLocalData reports whether any of schemas holds outbox entries, local
// records or checkpoints. Blank schemas are ignored.
func (l *LocalData) HasLocalData(ctx context.Context, schemas ...string) (bool, error) {
	ctx = appctx.SkipTenantScope(ctx)
	for _, schema := range distinct(schemas) {
		c, err := l.pool.Client(ctx, schema)
		if err != nil {
			return false, err
		}
		db := c.DB(ctx)
		for _, model := range tenantScopedTables {
			var n int64
			if err := db.Model(model).Limit(1).Count(&n).Error; err != nil {
				return false, err
			}
			if n > 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

// ClearForTenantSwitch deletes every tenant-scoped row in schemas,
// regardless of tenant id.
func (l *LocalData) ClearForTenantSwitch(ctx context.Context, schemas ...string) error {
	ctx = appctx.SkipTenantScope(ctx)
	for _, schema := range distinct(schemas) {
		c, err := l.pool.Client(ctx, schema)
		if err != nil {
			return err
		}
		err = c.Transaction(ctx, func(tx *gorm.DB) error {
			all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
			for _, model := range tenantScopedTables {
				if err := all.Delete(model).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func distinct(schemas []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(schemas))
	for _, s := range schemas {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

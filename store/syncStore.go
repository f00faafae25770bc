// Package store holds the gorm-backed local stores used by the sync engine
// and the session orchestrator.
package store

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/appctx"
	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 200

// SyncStore is the tenant schema's outbox, local records and checkpoints.
type SyncStore struct {
	client tenant.Client
}

func NewSyncStore(client tenant.Client) *SyncStore {
	return &SyncStore{client: client}
}

var (
	_ config.TenantScoped = models.OutboxEntry{}
	_ config.TenantScoped = models.LocalRecord{}
	_ config.TenantScoped = models.SyncCheckpoint{}
)

// db returns a handle whose statements the tenant scope plugin restricts to
// tenantID.
func (s *SyncStore) db(ctx context.Context, tenantID string) *gorm.DB {
	return s.client.DB(appctx.WithTenant(ctx, tenantID))
}

// PendingOutbox returns up to limit entries for tenantID in creation order.
// limit <= 0 returns all.
func (s *SyncStore) PendingOutbox(ctx context.Context, tenantID string, limit int) ([]models.OutboxEntry, error) {
	var out []models.OutboxEntry
	q := s.db(ctx, tenantID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOutboxEntry removes a confirmed entry. Deleting an entry that is
// already gone is not an error.
func (s *SyncStore) DeleteOutboxEntry(ctx context.Context, tenantID string, id uint64) error {
	return s.db(ctx, tenantID).Delete(&models.OutboxEntry{}, id).Error
}

func (s *SyncStore) CountOutbox(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db(ctx, tenantID).Model(&models.OutboxEntry{}).Count(&n).Error
	return n, err
}

// RecordMutation writes the local row and appends its outbox entry in one
// transaction.
func (s *SyncStore) RecordMutation(ctx context.Context, rec *models.LocalRecord, entry *models.OutboxEntry) error {
	ctx = appctx.WithTenant(ctx, rec.TenantId)
	return s.client.Transaction(ctx, func(tx *gorm.DB) error {
		rec.Deleted = entry.Operation == models.OutboxOperationDelete
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "entity_type"}, {Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "deleted", "updated_at"}),
		}).Create(rec).Error; err != nil {
			return err
		}
		return tx.Create(entry).Error
	})
}

// ApplyChanges upserts remote rows, remote-authoritatively, and saves cp in
// the same transaction when cp is non-nil. Rows of entity type "user" also
// refresh the login records in the users table.
func (s *SyncStore) ApplyChanges(ctx context.Context, tenantID string, recs []models.LocalRecord, cp *models.SyncCheckpoint) error {
	users, gone, err := usersFromRecords(tenantID, recs)
	if err != nil {
		return apperr.Application("store.ApplyChanges", err)
	}
	ctx = appctx.WithTenant(ctx, tenantID)
	return s.client.Transaction(ctx, func(tx *gorm.DB) error {
		if len(recs) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "entity_type"}, {Name: "entity_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"payload", "version", "deleted", "updated_at"}),
			}).CreateInBatches(recs, upsertBatchSize).Error; err != nil {
				return err
			}
		}
		if err := applyUsers(tx, users, gone); err != nil {
			return err
		}
		if cp != nil {
			return saveCheckpoint(tx, cp)
		}
		return nil
	})
}

// ClearRecords drops every local record of tenantID and its checkpoints.
// Outbox entries are kept.
func (s *SyncStore) ClearRecords(ctx context.Context, tenantID string) error {
	ctx = appctx.WithTenant(ctx, tenantID)
	return s.client.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Delete(&models.LocalRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.SyncCheckpoint{}).Error
	})
}

// Checkpoint returns nil when the pair has never been bootstrapped.
func (s *SyncStore) Checkpoint(ctx context.Context, tenantID, deviceID string) (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	err := s.db(ctx, tenantID).Where("device_id = ?", deviceID).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func saveCheckpoint(tx *gorm.DB, cp *models.SyncCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "bootstrapped_at", "last_pull_at", "updated_at"}),
	}).Create(cp).Error
}

// Record returns the local copy of one entity, or utils.ErrorRecordNotFound.
func (s *SyncStore) Record(ctx context.Context, tenantID, entityType, entityID string) (*models.LocalRecord, error) {
	var rec models.LocalRecord
	err := s.db(ctx, tenantID).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

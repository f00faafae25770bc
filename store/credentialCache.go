package store

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialCache persists offline login entries in the public schema.
type CredentialCache struct {
	pool *tenant.Pool
}

func NewCredentialCache(pool *tenant.Pool) *CredentialCache {
	return &CredentialCache{pool: pool}
}

func (c *CredentialCache) db(ctx context.Context) (*gorm.DB, error) {
	client, err := c.pool.Client(ctx, "")
	if err != nil {
		return nil, err
	}
	return client.DB(ctx), nil
}

// Upsert overwrites the entry for entry.Email.
func (c *CredentialCache) Upsert(ctx context.Context, entry *models.CredentialCacheEntry) error {
	db, err := c.db(ctx)
	if err != nil {
		return err
	}
	entry.Email = models.NormalizeEmail(entry.Email)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		UpdateAll: true,
	}).Create(entry).Error
}

// FindByEmail returns utils.ErrorRecordNotFound when there is no entry.
func (c *CredentialCache) FindByEmail(ctx context.Context, email string) (*models.CredentialCacheEntry, error) {
	db, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	var entry models.CredentialCacheEntry
	err = db.Where("email = ?", models.NormalizeEmail(email)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecordFailedAttempt increments the counter and returns the new value.
func (c *CredentialCache) RecordFailedAttempt(ctx context.Context, email string) (int, error) {
	db, err := c.db(ctx)
	if err != nil {
		return 0, err
	}
	email = models.NormalizeEmail(email)
	var attempts int
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CredentialCacheEntry{}).
			Where("email = ?", email).
			UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return tx.Model(&models.CredentialCacheEntry{}).
			Where("email = ?", email).
			Pluck("failed_attempts", &attempts).Error
	})
	return attempts, err
}

func (c *CredentialCache) ResetFailedAttempts(ctx context.Context, email string) error {
	db, err := c.db(ctx)
	if err != nil {
		return err
	}
	return db.Model(&models.CredentialCacheEntry{}).
		Where("email = ?", models.NormalizeEmail(email)).
		UpdateColumn("failed_attempts", 0).Error
}

func (c *CredentialCache) DeleteByEmail(ctx context.Context, email string) error {
	db, err := c.db(ctx)
	if err != nil {
		return err
	}
	return db.Where("email = ?", models.NormalizeEmail(email)).Delete(&models.CredentialCacheEntry{}).Error
}

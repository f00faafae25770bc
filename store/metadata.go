package store

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Metadata is the public-schema key/value store.
type Metadata struct {
	pool *tenant.Pool
}

func NewMetadata(pool *tenant.Pool) *Metadata {
	return &Metadata{pool: pool}
}

func (m *Metadata) db(ctx context.Context) (*gorm.DB, error) {
	c, err := m.pool.Client(ctx, "")
	if err != nil {
		return nil, err
	}
	return c.DB(ctx), nil
}

// Get reports false when key is unset.
func (m *Metadata) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := m.db(ctx)
	if err != nil {
		return "", false, err
	}
	var row models.AppMetadata
	err = db.Where("`key` = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (m *Metadata) Set(ctx context.Context, key, value string) error {
	db, err := m.db(ctx)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.AppMetadata{Key: key, Value: value}).Error
}

// SetIfAbsent stores value only when key is unset and returns the value
// that ends up stored.
func (m *Metadata) SetIfAbsent(ctx context.Context, key, value string) (string, error) {
	db, err := m.db(ctx)
	if err != nil {
		return "", err
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.AppMetadata{Key: key, Value: value}).Error; err != nil {
		return "", err
	}
	v, _, err := m.Get(ctx, key)
	return v, err
}

func (m *Metadata) Delete(ctx context.Context, key string) error {
	db, err := m.db(ctx)
	if err != nil {
		return err
	}
	return db.Where("`key` = ?", key).Delete(&models.AppMetadata{}).Error
}

package store

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"gorm.io/gorm"
)

// TenantUsers reads login records from the active tenant schema.
type TenantUsers struct {
	pool *tenant.Pool
}

func NewTenantUsers(pool *tenant.Pool) *TenantUsers {
	return &TenantUsers{pool: pool}
}

// FindByEmail looks the user up in the active schema. It returns
// utils.ErrorRecordNotFound when absent and ErrNoActiveSchema when no schema
// is active.
func (u *TenantUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	schema := u.pool.ActiveSchema()
	if schema == "" {
		return nil, ErrNoActiveSchema
	}
	c, err := u.pool.Client(ctx, schema)
	if err != nil {
		return nil, err
	}
	var user models.User
	err = c.DB(ctx).Where("email = ?", models.NormalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

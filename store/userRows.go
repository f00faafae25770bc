package store

import (
	"encoding/json"
	"fmt"

	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRow is the payload of a synced "user" entity.
type userRow struct {
	Email        string          `json:"email"`
	Name         string          `json:"name"`
	PasswordHash string          `json:"password_hash"`
	IsActive     *bool           `json:"is_active"`
	Roles        json.RawMessage `json:"roles"`
}

// usersFromRecords picks the "user" rows out of recs. Live rows become login
// records; deleted rows are returned as remote ids to deactivate.
func usersFromRecords(tenantID string, recs []models.LocalRecord) ([]models.User, []string, error) {
	var (
		users []models.User
		gone  []string
	)
	for _, rec := range recs {
		if rec.EntityType != models.EntityTypeUser {
			continue
		}
		if rec.Deleted {
			gone = append(gone, rec.EntityId)
			continue
		}
		var row userRow
		if err := utils.UnmarshalFromJSON(rec.Payload, &row); err != nil {
			return nil, nil, fmt.Errorf("decode user %s: %w", rec.EntityId, err)
		}
		email := models.NormalizeEmail(row.Email)
		if email == "" || row.PasswordHash == "" {
			return nil, nil, fmt.Errorf("user %s: email and password_hash are required", rec.EntityId)
		}
		name := row.Name
		if name == "" {
			name = email
		}
		active := row.IsActive == nil || *row.IsActive
		var roles []byte
		if len(row.Roles) > 0 && string(row.Roles) != "null" {
			roles = row.Roles
		}
		users = append(users, models.User{
			TenantId: tenantID,
			RemoteId: rec.EntityId,
			Email:    email,
			Name:     name,
			Password: row.PasswordHash,
			IsActive: &active,
			Roles:    roles,
		})
	}
	return users, gone, nil
}

func applyUsers(tx *gorm.DB, users []models.User, gone []string) error {
	if len(users) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "remote_id", "name", "password", "is_active", "roles", "updated_at"}),
		}).Create(&users).Error
		if err != nil {
			return fmt.Errorf("upsert users: %w", err)
		}
	}
	if len(gone) > 0 {
		err := tx.Model(&models.User{}).Where("remote_id IN ?", gone).Update("is_active", false).Error
		if err != nil {
			return fmt.Errorf("deactivate users: %w", err)
		}
	}
	return nil
}

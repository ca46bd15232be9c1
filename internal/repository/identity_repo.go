package repository

import (
	"context"
	"errors"
	"fmt"

	"doc-collab/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/*
LEARNING: SHARED GUEST IDENTITY STORAGE

When several client installs share a profile (kiosk machines, CI bots), the
guest identity is kept in postgres instead of a local file so that every
install shows up under the same name.

Query patterns:
- Load: one row per profile, nil when the profile has never been used
- Save: upsert on the profile key
*/

// IdentityRepositoryImpl stores guest identities keyed by client profile
type IdentityRepositoryImpl struct {
	db      *gorm.DB
	profile string
}

// NewIdentityRepository creates a repository bound to one client profile
func NewIdentityRepository(db *gorm.DB, profile string) *IdentityRepositoryImpl {
	return &IdentityRepositoryImpl{db: db, profile: profile}
}

// Load returns the stored identity for the profile, or nil if none exists
func (r *IdentityRepositoryImpl) Load(ctx context.Context) (*models.Identity, error) {
	var row models.GuestIdentity

	err := r.db.WithContext(ctx).
		Where("profile = ?", r.profile).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load guest identity: %w", err)
	}

	id := row.Identity()
	return &id, nil
}

// Save upserts the identity for the profile
func (r *IdentityRepositoryImpl) Save(ctx context.Context, identity models.Identity) error {
	row := &models.GuestIdentity{
		Profile:    r.profile,
		IdentityID: identity.ID,
		Name:       identity.Name,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "profile"}},
			DoUpdates: clause.AssignmentColumns([]string{"identity_id", "name", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to store guest identity: %w", err)
	}

	return nil
}

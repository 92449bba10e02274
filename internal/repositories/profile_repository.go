package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

// ProfileRepository resolves display profiles.
type ProfileRepository interface {
	BulkProfiles(ctx context.Context, ids []string) ([]models.Profile, error)
	GetProfile(ctx context.Context, id string) (models.Profile, error)
}

var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepo is a sqlx-backed repository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// BulkProfiles fetches profiles for ids; unknown ids are skipped.
func (r *ProfileRepo) BulkProfiles(ctx context.Context, ids []string) ([]models.Profile, error) {
	if len(ids) == 0 {
		return []models.Profile{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, email, full_name FROM profiles WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	profiles := []models.Profile{}
	err = r.db.SelectContext(ctx, &profiles, r.db.Rebind(query), args...)
	return profiles, err
}

// GetProfile fetches one profile.
func (r *ProfileRepo) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p, `SELECT id, email, full_name FROM profiles WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrProfileNotFound
	}
	return p, err
}

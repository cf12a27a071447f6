package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"ms-promocodes/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ErrNoRows is returned when a lookup matches nothing; the service layer
// translates it into its NOT_FOUND sentinel.
var ErrNoRows = sql.ErrNoRows

// GetByID → fetch one promo code by its ID, tombstoned rows excluded
func (d *DB) GetByID(ctx context.Context, id string) (*models.PromoCode, error) {
	var code models.PromoCode
	err := d.Bun.NewSelect().
		Model(&code).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// GetByCode → fetch one promo code by its normalized (uppercase) code
func (d *DB) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := d.Bun.NewSelect().
		Model(&promo).
		Where("code = ?", code).
		Where("deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

// ExistsByCode reports whether a live definition already claims the code.
func (d *DB) ExistsByCode(ctx context.Context, code string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.PromoCode)(nil)).
		Where("code = ?", code).
		Where("deleted_at IS NULL").
		Exists(ctx)
}

// Insert → create a new promo code definition
func (d *DB) Insert(ctx context.Context, code *models.PromoCode) error {
	_, err := d.Bun.NewInsert().Model(code).Exec(ctx)
	return err
}

// Update writes only the given columns. used_count is never in the list:
// that column belongs to the redemption path.
func (d *DB) Update(ctx context.Context, code *models.PromoCode, columns ...string) error {
	if len(columns) == 0 {
		return errors.New("update requires at least one column")
	}
	_, err := d.Bun.NewUpdate().
		Model(code).
		Column(columns...).
		Where("id = ?", code.ID).
		Exec(ctx)
	return err
}

// Delete → hard delete, only used for codes with no usage history
func (d *DB) Delete(ctx context.Context, id string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.PromoCode)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// List → fetch all live promo codes, newest first, optionally filtered to
// codes applicable to a given event
func (d *DB) List(ctx context.Context, eventID string) ([]models.PromoCode, error) {
	var codes []models.PromoCode
	err := d.Bun.NewSelect().
		Model(&codes).
		Where("deleted_at IS NULL").
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if eventID == "" {
		return codes, nil
	}

	// Event applicability is stored as a JSON list; filter in Go so the
	// query stays portable across dialects.
	filtered := make([]models.PromoCode, 0, len(codes))
	for _, code := range codes {
		if len(code.ApplicableEventIDs) == 0 {
			filtered = append(filtered, code)
			continue
		}
		for _, id := range code.ApplicableEventIDs {
			if id == eventID {
				filtered = append(filtered, code)
				break
			}
		}
	}
	return filtered, nil
}

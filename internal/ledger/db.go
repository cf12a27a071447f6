package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-promocodes/internal/models"
)

// DB is the append-only usage ledger. Callers inside a redemption
// transaction pass the bun.Tx so counts, the appended record and the
// counter increment are all observed atomically; read-only callers pass
// the root *bun.DB.
type DB struct {
	Bun *bun.DB
}

// CountGlobalUses → total committed redemptions for a code
func (d *DB) CountGlobalUses(ctx context.Context, promoCodeID string) (int, error) {
	return d.countGlobal(ctx, d.Bun, promoCodeID)
}

func (d *DB) countGlobal(ctx context.Context, idb bun.IDB, promoCodeID string) (int, error) {
	return idb.NewSelect().
		Model((*models.UsageRecord)(nil)).
		Where("promo_code_id = ?", promoCodeID).
		Count(ctx)
}

// CountUserUses → committed redemptions of a code by one user
func (d *DB) CountUserUses(ctx context.Context, idb bun.IDB, promoCodeID, userID string) (int, error) {
	return idb.NewSelect().
		Model((*models.UsageRecord)(nil)).
		Where("promo_code_id = ?", promoCodeID).
		Where("user_id = ?", userID).
		Count(ctx)
}

// Append → insert one immutable usage record
func (d *DB) Append(ctx context.Context, idb bun.IDB, record *models.UsageRecord) error {
	_, err := idb.NewInsert().Model(record).Exec(ctx)
	return err
}

// GetCodeForRedemption re-reads the definition inside the unit of work so
// the evaluator sees a fresh used_count rather than a caller snapshot.
func (d *DB) GetCodeForRedemption(ctx context.Context, idb bun.IDB, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := idb.NewSelect().
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

// IncrementUsedCount bumps the counter only if it still holds the value the
// evaluation ran against. A false return means another writer got there
// first and the whole unit of work must be retried.
func (d *DB) IncrementUsedCount(ctx context.Context, idb bun.IDB, promoCodeID string, observed int) (bool, error) {
	res, err := idb.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("used_count = used_count + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", promoCodeID).
		Where("used_count = ?", observed).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// UniqueUsers → distinct users that ever redeemed the code
func (d *DB) UniqueUsers(ctx context.Context, promoCodeID string) (int, error) {
	var count int
	err := d.Bun.NewSelect().
		ColumnExpr("COUNT(DISTINCT user_id)").
		Model((*models.UsageRecord)(nil)).
		Where("promo_code_id = ?", promoCodeID).
		Scan(ctx, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// RecordsBetween → usage records inside [from, to), newest first
func (d *DB) RecordsBetween(ctx context.Context, promoCodeID string, from, to time.Time) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	err := d.Bun.NewSelect().
		Model(&records).
		Where("promo_code_id = ?", promoCodeID).
		Where("used_at >= ?", from).
		Where("used_at < ?", to).
		Order("used_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

package ledger_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-promocodes/internal/ledger"
	"ms-promocodes/internal/models"
)

func setupTestDB(t *testing.T) (*ledger.DB, *bun.DB) {
	// Connect to an in-memory SQLite DB for testing
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.PromoCode)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create promo_codes table: %v", err)
	}
	_, err = bunDB.NewCreateTable().Model((*models.UsageRecord)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create promo_code_usages table: %v", err)
	}

	return &ledger.DB{Bun: bunDB}, bunDB
}

func insertCode(t *testing.T, bunDB *bun.DB, usedCount int) *models.PromoCode {
	now := time.Now().UTC()
	code := &models.PromoCode{
		ID:             uuid.NewString(),
		Code:           "SAVE10",
		DiscountType:   models.DiscountTypePercentage,
		DiscountValue:  decimal.NewFromInt(10),
		MaxUsesPerUser: 1,
		ValidFrom:      now.AddDate(0, -1, 0),
		IsActive:       true,
		UsedCount:      usedCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := bunDB.NewInsert().Model(code).Exec(context.Background())
	require.NoError(t, err)
	return code
}

func record(codeID, userID string, usedAt time.Time) *models.UsageRecord {
	return &models.UsageRecord{
		ID:             uuid.NewString(),
		PromoCodeID:    codeID,
		UserID:         userID,
		OrderID:        uuid.NewString(),
		DiscountAmount: decimal.NewFromInt(20),
		UsedAt:         usedAt,
	}
}

func TestAppendAndCounts(t *testing.T) {
	ldb, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	code := insertCode(t, bunDB, 0)
	now := time.Now().UTC()

	require.NoError(t, ldb.Append(ctx, bunDB, record(code.ID, "user-1", now)))
	require.NoError(t, ldb.Append(ctx, bunDB, record(code.ID, "user-1", now)))
	require.NoError(t, ldb.Append(ctx, bunDB, record(code.ID, "user-2", now)))

	total, err := ldb.CountGlobalUses(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	user1, err := ldb.CountUserUses(ctx, bunDB, code.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, user1)

	user3, err := ldb.CountUserUses(ctx, bunDB, code.ID, "user-3")
	require.NoError(t, err)
	assert.Equal(t, 0, user3)

	unique, err := ldb.UniqueUsers(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, unique)
}

func TestIncrementUsedCountIsConditional(t *testing.T) {
	ldb, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	code := insertCode(t, bunDB, 4)

	ok, err := ldb.IncrementUsedCount(ctx, bunDB, code.ID, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer holding the stale observation must lose.
	ok, err = ldb.IncrementUsedCount(ctx, bunDB, code.ID, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := ldb.GetCodeForRedemption(ctx, bunDB, code.Code)
	require.NoError(t, err)
	assert.Equal(t, 5, fresh.UsedCount)
}

func TestGetCodeForRedemptionSkipsDeleted(t *testing.T) {
	ldb, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	code := insertCode(t, bunDB, 0)
	now := time.Now().UTC()
	_, err := bunDB.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("deleted_at = ?", now).
		Where("id = ?", code.ID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = ldb.GetCodeForRedemption(ctx, bunDB, code.Code)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordsBetweenIsHalfOpenAndNewestFirst(t *testing.T) {
	ldb, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	code := insertCode(t, bunDB, 0)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	before := record(code.ID, "user-1", base.Add(-time.Hour))
	first := record(code.ID, "user-1", base)
	second := record(code.ID, "user-2", base.Add(24*time.Hour))
	atEnd := record(code.ID, "user-3", base.Add(48*time.Hour))
	require.NoError(t, ldb.Append(ctx, bunDB, before))
	require.NoError(t, ldb.Append(ctx, bunDB, first))
	require.NoError(t, ldb.Append(ctx, bunDB, second))
	require.NoError(t, ldb.Append(ctx, bunDB, atEnd))

	records, err := ldb.RecordsBetween(ctx, code.ID, base, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2, "records before the window and at the exclusive end are out")
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}

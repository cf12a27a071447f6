package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-promocodes/internal/logger"
	"ms-promocodes/internal/models"
	"ms-promocodes/internal/registry"
)

// Mock implementations
type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) GetByID(ctx context.Context, id string) (*models.PromoCode, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PromoCode), args.Error(1)
}

func (m *MockDBLayer) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	args := m.Called(code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PromoCode), args.Error(1)
}

func (m *MockDBLayer) ExistsByCode(ctx context.Context, code string) (bool, error) {
	args := m.Called(code)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) Insert(ctx context.Context, code *models.PromoCode) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockDBLayer) Update(ctx context.Context, code *models.PromoCode, columns ...string) error {
	args := m.Called(code, columns)
	return args.Error(0)
}

func (m *MockDBLayer) Delete(ctx context.Context, id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockDBLayer) List(ctx context.Context, eventID string) ([]models.PromoCode, error) {
	args := m.Called(eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PromoCode), args.Error(1)
}

type MockUsageCounter struct {
	mock.Mock
}

func (m *MockUsageCounter) CountGlobalUses(ctx context.Context, promoCodeID string) (int, error) {
	args := m.Called(promoCodeID)
	return args.Int(0), args.Error(1)
}

func newTestService(db *MockDBLayer, usage *MockUsageCounter) *registry.Service {
	return registry.NewService(db, usage, nil, logger.NewLogger())
}

func validCreateRequest() models.CreatePromoCodeRequest {
	return models.CreatePromoCodeRequest{
		Code:          "save10",
		Name:          "Save 10%",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		ValidFrom:     time.Now().UTC().AddDate(0, 0, -1),
	}
}

func TestRegisterNormalizesCodeToUppercase(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockUsageCounter))

	mockDB.On("ExistsByCode", "SAVE10").Return(false, nil)
	mockDB.On("Insert", mock.MatchedBy(func(c *models.PromoCode) bool {
		return c.Code == "SAVE10"
	})).Return(nil)

	code, err := svc.Register(context.Background(), validCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", code.Code)
	assert.Equal(t, 1, code.MaxUsesPerUser, "per-user limit defaults to 1")
	assert.True(t, code.IsActive)
	assert.Equal(t, 0, code.UsedCount)

	mockDB.AssertExpectations(t)
}

func TestRegisterRejectsDuplicateCaseInsensitively(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockUsageCounter))

	mockDB.On("ExistsByCode", "SAVE10").Return(true, nil)

	req := validCreateRequest()
	req.Code = "Save10"
	_, err := svc.Register(context.Background(), req)
	assert.ErrorIs(t, err, registry.ErrDuplicateCode)
}

// Two registers racing past the existence check: the loser's unique-index
// violation must surface as a duplicate, not an internal error.
func TestRegisterMapsUniqueViolationToDuplicate(t *testing.T) {
	tests := []struct {
		name      string
		insertErr error
	}{
		{
			name:      "postgres driver",
			insertErr: &pq.Error{Code: "23505"},
		},
		{
			name:      "sqlite driver",
			insertErr: errors.New("constraint failed: UNIQUE constraint failed: promo_codes.code"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB := new(MockDBLayer)
			svc := newTestService(mockDB, new(MockUsageCounter))

			mockDB.On("ExistsByCode", "SAVE10").Return(false, nil)
			mockDB.On("Insert", mock.Anything).Return(tt.insertErr)

			_, err := svc.Register(context.Background(), validCreateRequest())
			assert.ErrorIs(t, err, registry.ErrDuplicateCode)
		})
	}
}

func TestRegisterValidationRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.CreatePromoCodeRequest)
		wantErr error
	}{
		{
			name:    "zero discount value",
			mutate:  func(r *models.CreatePromoCodeRequest) { r.DiscountValue = decimal.Zero },
			wantErr: registry.ErrInvalidDiscountValue,
		},
		{
			name:    "negative discount value",
			mutate:  func(r *models.CreatePromoCodeRequest) { r.DiscountValue = decimal.NewFromInt(-5) },
			wantErr: registry.ErrInvalidDiscountValue,
		},
		{
			name: "percentage above 100 is rejected, not clamped",
			mutate: func(r *models.CreatePromoCodeRequest) {
				r.DiscountValue = decimal.NewFromInt(150)
			},
			wantErr: registry.ErrInvalidDiscountValue,
		},
		{
			name: "fixed amount above 100 is fine",
			mutate: func(r *models.CreatePromoCodeRequest) {
				r.DiscountType = models.DiscountTypeFixedAmount
				r.DiscountValue = decimal.NewFromInt(150)
			},
		},
		{
			name: "negative minimum order",
			mutate: func(r *models.CreatePromoCodeRequest) {
				r.MinimumOrderAmount = decimal.NewFromInt(-1)
			},
			wantErr: registry.ErrInvalidDiscountValue,
		},
		{
			name: "valid_until before valid_from",
			mutate: func(r *models.CreatePromoCodeRequest) {
				until := r.ValidFrom.AddDate(0, 0, -1)
				r.ValidUntil = &until
			},
			wantErr: registry.ErrInvalidDateRange,
		},
		{
			name: "zero max uses",
			mutate: func(r *models.CreatePromoCodeRequest) {
				zero := 0
				r.MaxUses = &zero
			},
			wantErr: registry.ErrInvalidUsageLimit,
		},
		{
			name: "unknown discount type",
			mutate: func(r *models.CreatePromoCodeRequest) {
				r.DiscountType = "BOGOF"
			},
			wantErr: registry.ErrInvalidDiscountType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB := new(MockDBLayer)
			svc := newTestService(mockDB, new(MockUsageCounter))

			mockDB.On("ExistsByCode", mock.Anything).Return(false, nil).Maybe()
			mockDB.On("Insert", mock.Anything).Return(nil).Maybe()

			req := validCreateRequest()
			tt.mutate(&req)
			_, err := svc.Register(context.Background(), req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestUpdateRejectsLoweringMaxUsesBelowUsedCount(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockUsageCounter))

	existing := &models.PromoCode{
		ID:             "pc-1",
		Code:           "SAVE10",
		DiscountType:   models.DiscountTypePercentage,
		DiscountValue:  decimal.NewFromInt(10),
		MaxUsesPerUser: 1,
		ValidFrom:      time.Now().UTC().AddDate(0, 0, -1),
		IsActive:       true,
		UsedCount:      7,
	}
	mockDB.On("GetByID", "pc-1").Return(existing, nil)

	five := 5
	_, err := svc.Update(context.Background(), "pc-1", models.UpdatePromoCodeRequest{MaxUses: &five})
	assert.ErrorIs(t, err, registry.ErrUsageLimitBelowUsed)

	mockDB.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestUpdateNeverTouchesUsedCount(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockUsageCounter))

	existing := &models.PromoCode{
		ID:             "pc-1",
		Code:           "SAVE10",
		DiscountType:   models.DiscountTypePercentage,
		DiscountValue:  decimal.NewFromInt(10),
		MaxUsesPerUser: 1,
		ValidFrom:      time.Now().UTC().AddDate(0, 0, -1),
		IsActive:       true,
		UsedCount:      3,
	}
	mockDB.On("GetByID", "pc-1").Return(existing, nil)
	mockDB.On("Update", mock.Anything, mock.MatchedBy(func(columns []string) bool {
		for _, c := range columns {
			if c == "used_count" {
				return false
			}
		}
		return true
	})).Return(nil)

	name := "New name"
	_, err := svc.Update(context.Background(), "pc-1", models.UpdatePromoCodeRequest{Name: &name})
	require.NoError(t, err)
	mockDB.AssertExpectations(t)
}

func TestDeleteSoftDeletesWhenUsageExists(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockUsage := new(MockUsageCounter)
	svc := newTestService(mockDB, mockUsage)

	existing := &models.PromoCode{
		ID:             "pc-1",
		Code:           "SAVE10",
		DiscountType:   models.DiscountTypePercentage,
		DiscountValue:  decimal.NewFromInt(10),
		MaxUsesPerUser: 1,
		ValidFrom:      time.Now().UTC().AddDate(0, 0, -1),
		IsActive:       true,
	}
	mockDB.On("GetByID", "pc-1").Return(existing, nil)
	mockUsage.On("CountGlobalUses", "pc-1").Return(4, nil)
	mockDB.On("Update", mock.MatchedBy(func(c *models.PromoCode) bool {
		return c.DeletedAt != nil && !c.IsActive
	}), []string{"deleted_at", "is_active", "updated_at"}).Return(nil)

	require.NoError(t, svc.Delete(context.Background(), "pc-1"))
	mockDB.AssertNotCalled(t, "Delete", mock.Anything)
	mockDB.AssertExpectations(t)
}

func TestDeleteHardDeletesWhenUnused(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockUsage := new(MockUsageCounter)
	svc := newTestService(mockDB, mockUsage)

	existing := &models.PromoCode{
		ID:             "pc-1",
		Code:           "SAVE10",
		DiscountType:   models.DiscountTypePercentage,
		DiscountValue:  decimal.NewFromInt(10),
		MaxUsesPerUser: 1,
		ValidFrom:      time.Now().UTC().AddDate(0, 0, -1),
		IsActive:       true,
	}
	mockDB.On("GetByID", "pc-1").Return(existing, nil)
	mockUsage.On("CountGlobalUses", "pc-1").Return(0, nil)
	mockDB.On("Delete", "pc-1").Return(nil)

	require.NoError(t, svc.Delete(context.Background(), "pc-1"))
	mockDB.AssertExpectations(t)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", registry.NormalizeCode("save10"))
	assert.Equal(t, "SAVE10", registry.NormalizeCode("  Save10 "))
	assert.Equal(t, "SAVE10", registry.NormalizeCode("SAVE10"))
}

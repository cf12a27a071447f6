package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"ms-promocodes/internal/logger"
	"ms-promocodes/internal/models"
)

var (
	ErrNotFound             = errors.New("promo code not found")
	ErrDuplicateCode        = errors.New("promo code already exists")
	ErrInvalidDiscountValue = errors.New("invalid discount value")
	ErrInvalidDateRange     = errors.New("valid_until must be after valid_from")
	ErrInvalidUsageLimit    = errors.New("usage limits must be positive")
	ErrUsageLimitBelowUsed  = errors.New("max_uses cannot be lowered below the current usage count")
	ErrCodeRequired         = errors.New("code is required")
	ErrInvalidDiscountType  = errors.New("discount type must be PERCENTAGE or FIXED_AMOUNT")
)

type DBLayer interface {
	GetByID(ctx context.Context, id string) (*models.PromoCode, error)
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Insert(ctx context.Context, code *models.PromoCode) error
	Update(ctx context.Context, code *models.PromoCode, columns ...string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, eventID string) ([]models.PromoCode, error)
}

// UsageCounter is how the registry asks the ledger whether a code has
// history. The registry never writes usage state itself.
type UsageCounter interface {
	CountGlobalUses(ctx context.Context, promoCodeID string) (int, error)
}

type KafkaPublisher interface {
	PublishPromoCreated(code models.PromoCode) error
}

type Service struct {
	DB     DBLayer
	Usage  UsageCounter
	Kafka  KafkaPublisher
	Logger *logger.Logger
}

func NewService(db DBLayer, usage UsageCounter, kafka KafkaPublisher, log *logger.Logger) *Service {
	return &Service{DB: db, Usage: usage, Kafka: kafka, Logger: log}
}

// NormalizeCode maps any spelling of a code to its canonical storage form.
// Lookup and uniqueness are case-insensitive end to end because every path
// goes through this.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// rule is one entry of the field validation table. Rules run in order on
// every register and update, so the same predicate can never be duplicated
// in a handler or UI layer.
var hundredPercent = decimal.NewFromInt(100)

type rule struct {
	field string
	ok    func(code *models.PromoCode) bool
	err   error
}

var validationRules = []rule{
	{
		field: "discount_type",
		ok: func(c *models.PromoCode) bool {
			return c.DiscountType == models.DiscountTypePercentage || c.DiscountType == models.DiscountTypeFixedAmount
		},
		err: ErrInvalidDiscountType,
	},
	{
		field: "discount_value",
		ok:    func(c *models.PromoCode) bool { return c.DiscountValue.IsPositive() },
		err:   ErrInvalidDiscountValue,
	},
	{
		field: "discount_value",
		ok: func(c *models.PromoCode) bool {
			if c.DiscountType != models.DiscountTypePercentage {
				return true
			}
			return c.DiscountValue.LessThanOrEqual(hundredPercent)
		},
		err: ErrInvalidDiscountValue,
	},
	{
		field: "minimum_order_amount",
		ok:    func(c *models.PromoCode) bool { return !c.MinimumOrderAmount.IsNegative() },
		err:   ErrInvalidDiscountValue,
	},
	{
		field: "maximum_discount_amount",
		ok: func(c *models.PromoCode) bool {
			return c.MaximumDiscountAmount == nil || c.MaximumDiscountAmount.IsPositive()
		},
		err: ErrInvalidDiscountValue,
	},
	{
		field: "max_uses",
		ok:    func(c *models.PromoCode) bool { return c.MaxUses == nil || *c.MaxUses > 0 },
		err:   ErrInvalidUsageLimit,
	},
	{
		field: "max_uses_per_user",
		ok:    func(c *models.PromoCode) bool { return c.MaxUsesPerUser > 0 },
		err:   ErrInvalidUsageLimit,
	},
	{
		field: "valid_until",
		ok: func(c *models.PromoCode) bool {
			return c.ValidUntil == nil || c.ValidUntil.After(c.ValidFrom)
		},
		err: ErrInvalidDateRange,
	},
}

// isUniqueViolation recognizes the code unique-index error from both the
// postgres driver and the sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func validate(code *models.PromoCode) error {
	for _, r := range validationRules {
		if !r.ok(code) {
			return fmt.Errorf("%s: %w", r.field, r.err)
		}
	}
	return nil
}

// Register validates and stores a new definition. Values are rejected, never
// clamped: a percentage of 150 is an error, not 100.
func (s *Service) Register(ctx context.Context, req models.CreatePromoCodeRequest) (*models.PromoCode, error) {
	normalized := NormalizeCode(req.Code)
	if normalized == "" {
		return nil, ErrCodeRequired
	}

	now := time.Now().UTC()
	code := &models.PromoCode{
		ID:                      uuid.NewString(),
		Code:                    normalized,
		Name:                    req.Name,
		Description:             req.Description,
		DiscountType:            req.DiscountType,
		DiscountValue:           req.DiscountValue,
		MinimumOrderAmount:      req.MinimumOrderAmount,
		MaximumDiscountAmount:   req.MaximumDiscountAmount,
		MaxUses:                 req.MaxUses,
		MaxUsesPerUser:          req.MaxUsesPerUser,
		ValidFrom:               req.ValidFrom,
		ValidUntil:              req.ValidUntil,
		ApplicableEventIDs:      req.ApplicableEventIDs,
		ApplicableTicketTypeIDs: req.ApplicableTicketTypeIDs,
		IsActive:                true,
		UsedCount:               0,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if code.MaxUsesPerUser == 0 {
		code.MaxUsesPerUser = 1
	}
	if code.ValidFrom.IsZero() {
		code.ValidFrom = now
	}
	if req.IsActive != nil {
		code.IsActive = *req.IsActive
	}

	if err := validate(code); err != nil {
		return nil, err
	}

	exists, err := s.DB.ExistsByCode(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to check code uniqueness: %w", err)
	}
	if exists {
		return nil, ErrDuplicateCode
	}

	if err := s.DB.Insert(ctx, code); err != nil {
		// Two concurrent registers can both pass the existence check; the
		// unique index decides the loser.
		if isUniqueViolation(err) {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("failed to create promo code: %w", err)
	}

	s.Logger.LogPromo("CREATE", code.Code, fmt.Sprintf("registered with type %s", code.DiscountType))

	if s.Kafka != nil {
		if err := s.Kafka.PublishPromoCreated(*code); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("publish promo created failed: %v", err))
		}
	}

	return code, nil
}

// Lookup resolves a code spelled in any case to its live definition.
func (s *Service) Lookup(ctx context.Context, code string) (*models.PromoCode, error) {
	promo, err := s.DB.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up promo code: %w", err)
	}
	return promo, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.PromoCode, error) {
	promo, err := s.DB.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch promo code: %w", err)
	}
	return promo, nil
}

func (s *Service) List(ctx context.Context, eventID string) ([]models.PromoCode, error) {
	return s.DB.List(ctx, eventID)
}

// Update applies the non-nil fields of req, re-validating with the same
// rules table as Register. used_count is untouchable here, and max_uses can
// never drop below what has already been redeemed.
func (s *Service) Update(ctx context.Context, id string, req models.UpdatePromoCodeRequest) (*models.PromoCode, error) {
	code, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	columns := []string{"updated_at"}
	touch := func(col string) { columns = append(columns, col) }

	if req.Name != nil {
		code.Name = *req.Name
		touch("name")
	}
	if req.Description != nil {
		code.Description = *req.Description
		touch("description")
	}
	if req.DiscountType != nil {
		code.DiscountType = *req.DiscountType
		touch("discount_type")
	}
	if req.DiscountValue != nil {
		code.DiscountValue = *req.DiscountValue
		touch("discount_value")
	}
	if req.MinimumOrderAmount != nil {
		code.MinimumOrderAmount = *req.MinimumOrderAmount
		touch("minimum_order_amount")
	}
	if req.MaximumDiscountAmount != nil {
		code.MaximumDiscountAmount = req.MaximumDiscountAmount
		touch("maximum_discount_amount")
	}
	if req.MaxUses != nil {
		if *req.MaxUses < code.UsedCount {
			return nil, ErrUsageLimitBelowUsed
		}
		code.MaxUses = req.MaxUses
		touch("max_uses")
	}
	if req.MaxUsesPerUser != nil {
		code.MaxUsesPerUser = *req.MaxUsesPerUser
		touch("max_uses_per_user")
	}
	if req.ValidFrom != nil {
		code.ValidFrom = *req.ValidFrom
		touch("valid_from")
	}
	if req.ValidUntil != nil {
		code.ValidUntil = req.ValidUntil
		touch("valid_until")
	}
	if req.ApplicableEventIDs != nil {
		code.ApplicableEventIDs = req.ApplicableEventIDs
		touch("applicable_event_ids")
	}
	if req.ApplicableTicketTypeIDs != nil {
		code.ApplicableTicketTypeIDs = req.ApplicableTicketTypeIDs
		touch("applicable_ticket_type_ids")
	}
	if req.IsActive != nil {
		code.IsActive = *req.IsActive
		touch("is_active")
	}

	if err := validate(code); err != nil {
		return nil, err
	}

	code.UpdatedAt = time.Now().UTC()
	if err := s.DB.Update(ctx, code, columns...); err != nil {
		return nil, fmt.Errorf("failed to update promo code: %w", err)
	}

	s.Logger.LogPromo("UPDATE", code.Code, fmt.Sprintf("updated fields: %s", strings.Join(columns, ", ")))
	return code, nil
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) (*models.PromoCode, error) {
	return s.Update(ctx, id, models.UpdatePromoCodeRequest{IsActive: &active})
}

// Delete removes a definition. Codes with redemption history are
// soft-deleted so UsageRecords keep a valid parent; untouched codes are
// removed outright.
func (s *Service) Delete(ctx context.Context, id string) error {
	code, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	uses, err := s.Usage.CountGlobalUses(ctx, code.ID)
	if err != nil {
		return fmt.Errorf("failed to count usage for promo code: %w", err)
	}

	if uses == 0 {
		if err := s.DB.Delete(ctx, code.ID); err != nil {
			return fmt.Errorf("failed to delete promo code: %w", err)
		}
		s.Logger.LogPromo("DELETE", code.Code, "hard deleted (no usage history)")
		return nil
	}

	now := time.Now().UTC()
	code.DeletedAt = &now
	code.IsActive = false
	code.UpdatedAt = now
	if err := s.DB.Update(ctx, code, "deleted_at", "is_active", "updated_at"); err != nil {
		return fmt.Errorf("failed to soft delete promo code: %w", err)
	}
	s.Logger.LogPromo("DELETE", code.Code, fmt.Sprintf("soft deleted, %d usage records retained", uses))
	return nil
}


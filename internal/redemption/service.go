package redemption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-promocodes/internal/evaluator"
	"ms-promocodes/internal/ledger"
	"ms-promocodes/internal/logger"
	"ms-promocodes/internal/models"
	"ms-promocodes/internal/redemption/redislock"
	"ms-promocodes/internal/registry"
)

var (
	// ErrContentionTimeout means the redemption could not get exclusive
	// access to the code within its budget. Distinct from any domain
	// rejection; the checkout flow may retry once.
	ErrContentionTimeout = errors.New("promo code is under heavy contention, try again")

	errVersionConflict = errors.New("used_count changed during redemption")
)

const maxRedeemAttempts = 3

type Locker interface {
	Acquire(ctx context.Context, code string) (string, error)
	Release(ctx context.Context, code, token string) error
}

type KafkaPublisher interface {
	PublishPromoRedeemed(record models.UsageRecord) error
}

// Result pairs the decision with the committed record. Record is nil for
// rejections.
type Result struct {
	Decision evaluator.Decision
	Record   *models.UsageRecord
}

// Service is the redemption coordinator: it re-runs evaluation against
// fresh counts inside one transaction so "check then act" cannot race.
type Service struct {
	DB     *bun.DB
	Ledger *ledger.DB
	Lock   Locker
	Kafka  KafkaPublisher
	Logger *logger.Logger

	now func() time.Time
}

func NewService(db *bun.DB, ldg *ledger.DB, lock Locker, kafka KafkaPublisher, log *logger.Logger) *Service {
	return &Service{
		DB:     db,
		Ledger: ldg,
		Lock:   lock,
		Kafka:  kafka,
		Logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Preview evaluates a code against an order without taking a lock or
// writing anything. The counts it sees are a snapshot, so its answer is
// advisory; Redeem is the only authoritative path.
func (s *Service) Preview(ctx context.Context, code string, userID string, req models.ValidateCheckoutRequest) (evaluator.Decision, error) {
	promo, err := s.Ledger.GetCodeForRedemption(ctx, s.DB, registry.NormalizeCode(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return evaluator.NotFound(), nil
		}
		return evaluator.Decision{}, fmt.Errorf("failed to load promo code: %w", err)
	}

	userUses, err := s.Ledger.CountUserUses(ctx, s.DB, promo.ID, userID)
	if err != nil {
		return evaluator.Decision{}, fmt.Errorf("failed to count user uses: %w", err)
	}

	return evaluator.Evaluate(promo, evaluator.OrderContext{
		EventID:       req.EventID,
		TicketTypeIDs: req.TicketTypeIDs,
		OrderAmount:   req.OrderAmount,
		UserID:        userID,
		GlobalUses:    promo.UsedCount,
		UserUses:      userUses,
		Now:           s.now(),
	}), nil
}

// Redeem validates and commits one use of a code atomically. For a code
// with max_uses = N, at most N records are ever committed no matter how
// many checkouts race; the same holds per user for max_uses_per_user.
func (s *Service) Redeem(ctx context.Context, code string, userID string, req models.RedeemRequest) (*Result, error) {
	normalized := registry.NormalizeCode(code)

	token, err := s.Lock.Acquire(ctx, normalized)
	if err != nil {
		if errors.Is(err, redislock.ErrAcquireTimeout) {
			s.Logger.LogRedemption("TIMEOUT", normalized, "lock acquire timed out")
			return nil, ErrContentionTimeout
		}
		return nil, fmt.Errorf("failed to lock promo code: %w", err)
	}
	defer func() {
		if err := s.Lock.Release(ctx, normalized, token); err != nil {
			s.Logger.Error("REDEEM", fmt.Sprintf("failed to release lock for %s: %v", normalized, err))
		}
	}()

	for attempt := 0; attempt < maxRedeemAttempts; attempt++ {
		result, err := s.redeemOnce(ctx, normalized, userID, req)
		if errors.Is(err, errVersionConflict) {
			s.Logger.LogRedemption("RETRY", normalized, fmt.Sprintf("version conflict on attempt %d", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		if result.Decision.Valid {
			s.Logger.LogRedemption("COMMIT", normalized,
				fmt.Sprintf("user %s order %s discount %s", userID, req.OrderID, result.Decision.DiscountAmount.StringFixed(2)))
			if s.Kafka != nil && result.Record != nil {
				if err := s.Kafka.PublishPromoRedeemed(*result.Record); err != nil {
					s.Logger.Error("KAFKA", fmt.Sprintf("publish promo redeemed failed: %v", err))
				}
			}
		} else {
			s.Logger.LogRedemption("REJECT", normalized, string(result.Decision.Reason))
		}
		return result, nil
	}

	return nil, ErrContentionTimeout
}

// redeemOnce runs one unit of work: fresh reads, evaluation, and - only if
// accepted - the record append and the conditional counter increment.
func (s *Service) redeemOnce(ctx context.Context, normalized, userID string, req models.RedeemRequest) (*Result, error) {
	var result *Result

	err := s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		promo, err := s.Ledger.GetCodeForRedemption(ctx, tx, normalized)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				result = &Result{Decision: evaluator.NotFound()}
				return nil
			}
			return fmt.Errorf("failed to load promo code: %w", err)
		}

		userUses, err := s.Ledger.CountUserUses(ctx, tx, promo.ID, userID)
		if err != nil {
			return fmt.Errorf("failed to count user uses: %w", err)
		}

		decision := evaluator.Evaluate(promo, evaluator.OrderContext{
			EventID:       req.EventID,
			TicketTypeIDs: req.TicketTypeIDs,
			OrderAmount:   req.OrderAmount,
			UserID:        userID,
			GlobalUses:    promo.UsedCount,
			UserUses:      userUses,
			Now:           s.now(),
		})
		if !decision.Valid {
			result = &Result{Decision: decision}
			return nil
		}

		record := &models.UsageRecord{
			ID:             uuid.NewString(),
			PromoCodeID:    promo.ID,
			UserID:         userID,
			OrderID:        req.OrderID,
			DiscountAmount: decision.DiscountAmount,
			UsedAt:         s.now(),
		}
		if err := s.Ledger.Append(ctx, tx, record); err != nil {
			return fmt.Errorf("failed to append usage record: %w", err)
		}

		ok, err := s.Ledger.IncrementUsedCount(ctx, tx, promo.ID, promo.UsedCount)
		if err != nil {
			return fmt.Errorf("failed to increment used count: %w", err)
		}
		if !ok {
			return errVersionConflict
		}

		result = &Result{Decision: decision, Record: record}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

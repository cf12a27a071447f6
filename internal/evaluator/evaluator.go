package evaluator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ms-promocodes/internal/models"
)

// Reason is a machine-readable rejection code surfaced to the checkout UI.
type Reason string

const (
	ReasonCodeNotFound            Reason = "CODE_NOT_FOUND"
	ReasonInactive                Reason = "INACTIVE"
	ReasonNotYetValid             Reason = "NOT_YET_VALID"
	ReasonExpired                 Reason = "EXPIRED"
	ReasonGlobalLimitReached      Reason = "GLOBAL_LIMIT_REACHED"
	ReasonPerUserLimitReached     Reason = "PER_USER_LIMIT_REACHED"
	ReasonEventNotApplicable      Reason = "EVENT_NOT_APPLICABLE"
	ReasonTicketTypeNotApplicable Reason = "TICKET_TYPE_NOT_APPLICABLE"
	ReasonBelowMinimumOrder       Reason = "BELOW_MINIMUM_ORDER"
)

// OrderContext carries everything evaluation needs, including a usage
// snapshot and the clock. Callers outside a redemption transaction pass
// stale counts and must treat the result as advisory.
type OrderContext struct {
	EventID       string
	TicketTypeIDs []string
	OrderAmount   decimal.Decimal
	UserID        string
	GlobalUses    int
	UserUses      int
	Now           time.Time
}

// Decision is the outcome of one evaluation. Rejections are values, not
// errors: the caller renders Message and does not retry.
type Decision struct {
	Valid          bool            `json:"valid"`
	Reason         Reason          `json:"reason,omitempty"`
	Message        string          `json:"message,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

func rejected(reason Reason, message string) Decision {
	return Decision{Valid: false, Reason: reason, Message: message}
}

var hundred = decimal.NewFromInt(100)

// Evaluate runs the ordered eligibility checks and, on success, computes
// the discount. It is a pure function of its inputs: identical inputs
// always produce identical decisions, and the first failing check decides
// the rejection reason.
func Evaluate(code *models.PromoCode, ctx OrderContext) Decision {
	if !code.IsActive {
		return rejected(ReasonInactive, "Promo code is not active")
	}

	if ctx.Now.Before(code.ValidFrom) {
		return rejected(ReasonNotYetValid, "Promo code is not yet valid")
	}

	if code.ValidUntil != nil && ctx.Now.After(*code.ValidUntil) {
		return rejected(ReasonExpired, "Promo code has expired")
	}

	if code.MaxUses != nil && ctx.GlobalUses >= *code.MaxUses {
		return rejected(ReasonGlobalLimitReached, "Promo code usage limit has been reached")
	}

	if ctx.UserUses >= code.MaxUsesPerUser {
		return rejected(ReasonPerUserLimitReached, "You have already used this promo code")
	}

	if len(code.ApplicableEventIDs) > 0 {
		eventFound := false
		for _, eventID := range code.ApplicableEventIDs {
			if eventID == ctx.EventID {
				eventFound = true
				break
			}
		}
		if !eventFound {
			return rejected(ReasonEventNotApplicable, "Promo code is not applicable to this event")
		}
	}

	if len(code.ApplicableTicketTypeIDs) > 0 {
		applicable := make(map[string]bool, len(code.ApplicableTicketTypeIDs))
		for _, id := range code.ApplicableTicketTypeIDs {
			applicable[id] = true
		}
		matched := false
		for _, id := range ctx.TicketTypeIDs {
			if applicable[id] {
				matched = true
				break
			}
		}
		if !matched {
			return rejected(ReasonTicketTypeNotApplicable, "Promo code is not applicable to the selected ticket types")
		}
	}

	if ctx.OrderAmount.LessThan(code.MinimumOrderAmount) {
		return rejected(ReasonBelowMinimumOrder,
			fmt.Sprintf("Order total does not meet the minimum of %s", code.MinimumOrderAmount.StringFixed(2)))
	}

	var discount decimal.Decimal
	switch code.DiscountType {
	case models.DiscountTypePercentage:
		discount = ctx.OrderAmount.Mul(code.DiscountValue).Div(hundred)
	case models.DiscountTypeFixedAmount:
		discount = code.DiscountValue
	default:
		// Registry validation makes this unreachable; treat as no discount.
		discount = decimal.Zero
	}

	// Monetary rounding happens once: half-even to the minor unit. The
	// bounds are applied after it, because rounding up a sub-cent amount
	// could otherwise push the discount past the order total.
	discount = discount.RoundBank(2)

	// Never discount more than the order is worth.
	if discount.GreaterThan(ctx.OrderAmount) {
		discount = ctx.OrderAmount
	}
	if code.MaximumDiscountAmount != nil && discount.GreaterThan(*code.MaximumDiscountAmount) {
		discount = *code.MaximumDiscountAmount
	}

	return Decision{
		Valid:          true,
		DiscountAmount: discount,
		FinalAmount:    ctx.OrderAmount.Sub(discount),
	}
}

// NotFound is the decision returned when the code itself does not resolve.
// It lives here so the preview and redemption paths reject identically.
func NotFound() Decision {
	return rejected(ReasonCodeNotFound, "Promo code not found")
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreatePromoCodeRequest struct {
	Code                    string           `json:"code"`
	Name                    string           `json:"name"`
	Description             string           `json:"description"`
	DiscountType            DiscountType     `json:"discount_type"`
	DiscountValue           decimal.Decimal  `json:"discount_value"`
	MinimumOrderAmount      decimal.Decimal  `json:"minimum_order_amount"`
	MaximumDiscountAmount   *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
	MaxUses                 *int             `json:"max_uses,omitempty"`
	MaxUsesPerUser          int              `json:"max_uses_per_user"`
	ValidFrom               time.Time        `json:"valid_from"`
	ValidUntil              *time.Time       `json:"valid_until,omitempty"`
	ApplicableEventIDs      []string         `json:"applicable_event_ids,omitempty"`
	ApplicableTicketTypeIDs []string         `json:"applicable_ticket_type_ids,omitempty"`
	IsActive                *bool            `json:"is_active,omitempty"`
}

// UpdatePromoCodeRequest carries partial updates. Nil pointers leave the
// stored field untouched. The code itself is the checkout lookup key and is
// not updatable; used_count is owned by the redemption path.
type UpdatePromoCodeRequest struct {
	Name                    *string          `json:"name,omitempty"`
	Description             *string          `json:"description,omitempty"`
	DiscountType            *DiscountType    `json:"discount_type,omitempty"`
	DiscountValue           *decimal.Decimal `json:"discount_value,omitempty"`
	MinimumOrderAmount      *decimal.Decimal `json:"minimum_order_amount,omitempty"`
	MaximumDiscountAmount   *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
	MaxUses                 *int             `json:"max_uses,omitempty"`
	MaxUsesPerUser          *int             `json:"max_uses_per_user,omitempty"`
	ValidFrom               *time.Time       `json:"valid_from,omitempty"`
	ValidUntil              *time.Time       `json:"valid_until,omitempty"`
	ApplicableEventIDs      []string         `json:"applicable_event_ids,omitempty"`
	ApplicableTicketTypeIDs []string         `json:"applicable_ticket_type_ids,omitempty"`
	IsActive                *bool            `json:"is_active,omitempty"`
}

type ValidateCheckoutRequest struct {
	Code          string          `json:"code"`
	EventID       string          `json:"event_id"`
	TicketTypeIDs []string        `json:"ticket_types"`
	OrderAmount   decimal.Decimal `json:"order_amount"`
}

type ValidateCheckoutResponse struct {
	Valid          bool             `json:"valid"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	FinalAmount    *decimal.Decimal `json:"final_amount,omitempty"`
	Error          string           `json:"error,omitempty"`
}

type RedeemRequest struct {
	OrderID       string          `json:"order_id"`
	EventID       string          `json:"event_id"`
	TicketTypeIDs []string        `json:"ticket_types"`
	OrderAmount   decimal.Decimal `json:"order_amount"`
}

type RedeemResponse struct {
	Valid          bool             `json:"valid"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	FinalAmount    *decimal.Decimal `json:"final_amount,omitempty"`
	Usage          *UsageRecord     `json:"usage,omitempty"`
	Error          string           `json:"error,omitempty"`
}

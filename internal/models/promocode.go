package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "PERCENTAGE"
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	ID                      string           `bun:"id,pk" json:"id"`
	Code                    string           `bun:"code,notnull,unique" json:"code"`
	Name                    string           `bun:"name" json:"name"`
	Description             string           `bun:"description" json:"description"`
	DiscountType            DiscountType     `bun:"discount_type,notnull" json:"discount_type"`
	DiscountValue           decimal.Decimal  `bun:"discount_value,notnull,type:numeric" json:"discount_value"`
	MinimumOrderAmount      decimal.Decimal  `bun:"minimum_order_amount,notnull,type:numeric" json:"minimum_order_amount"`
	MaximumDiscountAmount   *decimal.Decimal `bun:"maximum_discount_amount,type:numeric" json:"maximum_discount_amount,omitempty"`
	MaxUses                 *int             `bun:"max_uses" json:"max_uses,omitempty"`
	MaxUsesPerUser          int              `bun:"max_uses_per_user,notnull" json:"max_uses_per_user"`
	ValidFrom               time.Time        `bun:"valid_from,notnull" json:"valid_from"`
	ValidUntil              *time.Time       `bun:"valid_until" json:"valid_until,omitempty"`
	ApplicableEventIDs      []string         `bun:"applicable_event_ids" json:"applicable_event_ids,omitempty"`
	ApplicableTicketTypeIDs []string         `bun:"applicable_ticket_type_ids" json:"applicable_ticket_type_ids,omitempty"`
	IsActive                bool             `bun:"is_active,notnull" json:"is_active"`
	UsedCount               int              `bun:"used_count,notnull,default:0" json:"used_count"`
	CreatedAt               time.Time        `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt               time.Time        `bun:"updated_at,notnull" json:"updated_at"`
	DeletedAt               *time.Time       `bun:"deleted_at" json:"-"`
}

// UsageRecord is immutable once written. Refunds would be modeled as a
// separate compensating record, never as an edit to an existing row.
type UsageRecord struct {
	bun.BaseModel `bun:"table:promo_code_usages"`

	ID             string          `bun:"id,pk" json:"id"`
	PromoCodeID    string          `bun:"promo_code_id,notnull" json:"promo_code_id"`
	UserID         string          `bun:"user_id,notnull" json:"user_id"`
	OrderID        string          `bun:"order_id,notnull" json:"order_id"`
	DiscountAmount decimal.Decimal `bun:"discount_amount,notnull,type:numeric" json:"discount_amount"`
	UsedAt         time.Time       `bun:"used_at,notnull" json:"used_at"`
}

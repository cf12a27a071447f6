package analytics

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"ms-promocodes/internal/ledger"
	"ms-promocodes/internal/models"
	"ms-promocodes/internal/registry"
	"ms-promocodes/internal/utils"
)

// Service produces read-only rollups over the usage ledger. It never writes
// and is safe to call while redemptions are in flight.
type Service struct {
	Registry *registry.Service
	Ledger   *ledger.DB
}

func NewService(reg *registry.Service, ldg *ledger.DB) *Service {
	return &Service{Registry: reg, Ledger: ldg}
}

// CodeAnalytics is the aggregate view for one promo code. Lifetime numbers
// (total uses, unique users, conversion) ignore the window; discount sums
// and the daily breakdown are windowed.
type CodeAnalytics struct {
	PromoCodeID        string          `json:"promo_code_id"`
	Code               string          `json:"code"`
	TotalUses          int             `json:"total_uses"`
	UniqueUsers        int             `json:"unique_users"`
	TotalDiscountGiven decimal.Decimal `json:"total_discount_given"`
	AverageDiscount    decimal.Decimal `json:"average_discount"`
	ConversionRate     *float64        `json:"conversion_rate,omitempty"`
	DailyUsage         []DailyUsage    `json:"daily_usage"`
}

// DailyUsage tracks redemptions of a code by day inside the window.
type DailyUsage struct {
	Date          string          `json:"date"`
	UsageCount    int             `json:"usage_count"`
	TotalDiscount decimal.Decimal `json:"total_discount_amount"`
}

// UsageHistory is one page of windowed usage records, newest first.
type UsageHistory struct {
	PromoCodeID string               `json:"promo_code_id"`
	Total       int                  `json:"total"`
	Page        int                  `json:"page"`
	PageSize    int                  `json:"page_size"`
	Records     []models.UsageRecord `json:"records"`
}

// GetCodeAnalytics returns the rollup for one code over the given window.
func (s *Service) GetCodeAnalytics(ctx context.Context, promoCodeID string, window utils.TimeWindow) (*CodeAnalytics, error) {
	code, err := s.Registry.Get(ctx, promoCodeID)
	if err != nil {
		return nil, err
	}

	totalUses, err := s.Ledger.CountGlobalUses(ctx, code.ID)
	if err != nil {
		return nil, err
	}

	uniqueUsers, err := s.Ledger.UniqueUsers(ctx, code.ID)
	if err != nil {
		return nil, err
	}

	records, err := s.Ledger.RecordsBetween(ctx, code.ID, window.From, window.To)
	if err != nil {
		return nil, err
	}

	totalDiscount := decimal.Zero
	byDay := make(map[string]*DailyUsage)
	for _, record := range records {
		totalDiscount = totalDiscount.Add(record.DiscountAmount)

		day := record.UsedAt.UTC().Format("2006-01-02")
		entry, ok := byDay[day]
		if !ok {
			entry = &DailyUsage{Date: day, TotalDiscount: decimal.Zero}
			byDay[day] = entry
		}
		entry.UsageCount++
		entry.TotalDiscount = entry.TotalDiscount.Add(record.DiscountAmount)
	}

	daily := make([]DailyUsage, 0, len(byDay))
	for _, entry := range byDay {
		daily = append(daily, *entry)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })

	average := decimal.Zero
	if len(records) > 0 {
		average = totalDiscount.Div(decimal.NewFromInt(int64(len(records)))).RoundBank(2)
	}

	analytics := &CodeAnalytics{
		PromoCodeID:        code.ID,
		Code:               code.Code,
		TotalUses:          totalUses,
		UniqueUsers:        uniqueUsers,
		TotalDiscountGiven: totalDiscount,
		AverageDiscount:    average,
		DailyUsage:         daily,
	}

	// Conversion is undefined for unlimited codes.
	if code.MaxUses != nil && *code.MaxUses > 0 {
		rate := float64(totalUses) / float64(*code.MaxUses) * 100
		analytics.ConversionRate = &rate
	}

	return analytics, nil
}

// GetUsageHistory returns one page of windowed records for a code, sorted
// by used_at descending.
func (s *Service) GetUsageHistory(ctx context.Context, promoCodeID string, window utils.TimeWindow, page, pageSize int) (*UsageHistory, error) {
	code, err := s.Registry.Get(ctx, promoCodeID)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	records, err := s.Ledger.RecordsBetween(ctx, code.ID, window.From, window.To)
	if err != nil {
		return nil, err
	}

	total := len(records)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	pageRecords := records[start:end]
	if pageRecords == nil {
		pageRecords = []models.UsageRecord{}
	}

	return &UsageHistory{
		PromoCodeID: code.ID,
		Total:       total,
		Page:        page,
		PageSize:    pageSize,
		Records:     pageRecords,
	}, nil
}

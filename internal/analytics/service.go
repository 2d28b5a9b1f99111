// Package analytics reports sales figures from the ticket table and the
// ledger. It never writes.
package analytics

import (
	"context"
	"sort"

	"ms-ticket-market/internal/models"

	"github.com/shopspring/decimal"
)

// Service handles analytics operations
type Service struct {
	db *DB
}

func NewService(db *DB) *Service {
	return &Service{db: db}
}

// MarketSummary aggregates primary and resale activity.
type MarketSummary struct {
	LiveTickets     int             `json:"live_tickets"`
	ListedTickets   int             `json:"listed_tickets"`
	UsedTickets     int             `json:"used_tickets"`
	PrimarySales    int             `json:"primary_sales"`
	PrimaryRevenue  decimal.Decimal `json:"primary_revenue"`
	Resales         int             `json:"resales"`
	ResaleVolume    decimal.Decimal `json:"resale_volume"`
	FeesCollected   decimal.Decimal `json:"fees_collected"`
	RefundsIssued   decimal.Decimal `json:"refunds_issued"`
	EscrowWithdrawn decimal.Decimal `json:"escrow_withdrawn"`
}

// DailySalesMetrics contains metrics for a single UTC day
type DailySalesMetrics struct {
	Date           string          `json:"date"`
	PrimarySales   int             `json:"primary_sales"`
	PrimaryRevenue decimal.Decimal `json:"primary_revenue"`
	Resales        int             `json:"resales"`
	ResaleVolume   decimal.Decimal `json:"resale_volume"`
	Fees           decimal.Decimal `json:"fees"`
}

func (s *Service) GetMarketSummary(ctx context.Context) (*MarketSummary, error) {
	counts, err := s.db.GetTicketCounts(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.db.GetEntriesByKind(ctx,
		models.CreditEscrow, models.CreditProceeds, models.CreditFee, models.CreditRefund, models.CreditWithdrawal)
	if err != nil {
		return nil, err
	}

	summary := &MarketSummary{
		LiveTickets:     counts.Live,
		ListedTickets:   counts.Listed,
		UsedTickets:     counts.Used,
		PrimaryRevenue:  decimal.Zero,
		ResaleVolume:    decimal.Zero,
		FeesCollected:   decimal.Zero,
		RefundsIssued:   decimal.Zero,
		EscrowWithdrawn: decimal.Zero,
	}
	for _, e := range entries {
		switch e.Kind {
		case models.CreditEscrow:
			summary.PrimarySales++
			summary.PrimaryRevenue = summary.PrimaryRevenue.Add(e.Amount)
		case models.CreditProceeds:
			summary.Resales++
			summary.ResaleVolume = summary.ResaleVolume.Add(e.Amount)
		case models.CreditFee:
			summary.FeesCollected = summary.FeesCollected.Add(e.Amount)
		case models.CreditRefund:
			summary.RefundsIssued = summary.RefundsIssued.Add(e.Amount)
		case models.CreditWithdrawal:
			// Each withdrawal is a debit of escrow and a credit of the operator.
			if e.Amount.IsPositive() {
				summary.EscrowWithdrawn = summary.EscrowWithdrawn.Add(e.Amount)
			}
		}
	}
	return summary, nil
}

// GetDailySales buckets primary and resale activity by UTC day, oldest first.
func (s *Service) GetDailySales(ctx context.Context) ([]DailySalesMetrics, error) {
	entries, err := s.db.GetEntriesByKind(ctx, models.CreditEscrow, models.CreditProceeds, models.CreditFee)
	if err != nil {
		return nil, err
	}

	byDate := map[string]*DailySalesMetrics{}
	for _, e := range entries {
		date := e.CreatedAt.UTC().Format("2006-01-02")
		day, ok := byDate[date]
		if !ok {
			day = &DailySalesMetrics{
				Date:           date,
				PrimaryRevenue: decimal.Zero,
				ResaleVolume:   decimal.Zero,
				Fees:           decimal.Zero,
			}
			byDate[date] = day
		}
		switch e.Kind {
		case models.CreditEscrow:
			day.PrimarySales++
			day.PrimaryRevenue = day.PrimaryRevenue.Add(e.Amount)
		case models.CreditProceeds:
			day.Resales++
			day.ResaleVolume = day.ResaleVolume.Add(e.Amount)
		case models.CreditFee:
			day.Fees = day.Fees.Add(e.Amount)
		}
	}

	daily := make([]DailySalesMetrics, 0, len(byDate))
	for _, day := range byDate {
		daily = append(daily, *day)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })
	return daily, nil
}

// GetAccountHistory returns every fund movement credited to account.
func (s *Service) GetAccountHistory(ctx context.Context, account string) ([]models.LedgerEntry, error) {
	return s.db.GetEntriesByAccount(ctx, account)
}

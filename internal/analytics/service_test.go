package analytics_test

import (
	"context"
	"testing"

	"ms-ticket-market/internal/analytics"
	"ms-ticket-market/internal/config"
	"ms-ticket-market/internal/database"
	"ms-ticket-market/internal/marketplace"
	"ms-ticket-market/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	operator = "0xoperator"
	alice    = "0xalice"
	bob      = "0xbob"
)

func setup(t *testing.T) (*marketplace.Service, *analytics.Service) {
	bunDB, err := database.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	market, err := marketplace.NewService(bunDB, config.CatalogConfig{
		Name:          "Game",
		Symbol:        "GM",
		InitialPrice:  decimal.NewFromInt(2),
		FeePercentage: 50,
		Operator:      operator,
	}, nil, nil)
	require.NoError(t, err)

	return market, analytics.NewService(analytics.NewDB(bunDB))
}

func TestGetMarketSummary(t *testing.T) {
	market, svc := setup(t)
	ctx := context.Background()

	_, err := market.Buy(ctx, alice, decimal.NewFromInt(2))
	require.NoError(t, err)
	_, err = market.Buy(ctx, alice, decimal.NewFromInt(2))
	require.NoError(t, err)

	_, err = market.SetSale(ctx, 0, alice)
	require.NoError(t, err)
	_, err = market.SetSale(ctx, 1, alice)
	require.NoError(t, err)
	_, err = market.BuyFromReseller(ctx, 0, bob, decimal.NewFromInt(4))
	require.NoError(t, err)
	_, err = market.Withdraw(ctx, operator)
	require.NoError(t, err)

	summary, err := svc.GetMarketSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.LiveTickets)
	assert.Equal(t, 1, summary.ListedTickets)
	assert.Equal(t, 0, summary.UsedTickets)
	assert.Equal(t, 2, summary.PrimarySales)
	assert.True(t, summary.PrimaryRevenue.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, 1, summary.Resales)
	assert.True(t, summary.ResaleVolume.Equal(decimal.NewFromInt(2)))
	assert.True(t, summary.FeesCollected.Equal(decimal.NewFromInt(1)))
	assert.True(t, summary.RefundsIssued.Equal(decimal.NewFromInt(1)))
	assert.True(t, summary.EscrowWithdrawn.Equal(decimal.NewFromInt(4)))
}

func TestGetDailySales(t *testing.T) {
	market, svc := setup(t)
	ctx := context.Background()

	daily, err := svc.GetDailySales(ctx)
	require.NoError(t, err)
	assert.Empty(t, daily)

	_, err = market.Buy(ctx, alice, decimal.NewFromInt(2))
	require.NoError(t, err)

	daily, err = svc.GetDailySales(ctx)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, 1, daily[0].PrimarySales)
	assert.True(t, daily[0].PrimaryRevenue.Equal(decimal.NewFromInt(2)))
}

func TestGetAccountHistory(t *testing.T) {
	market, svc := setup(t)
	ctx := context.Background()

	_, err := market.Buy(ctx, alice, decimal.NewFromInt(2))
	require.NoError(t, err)
	_, err = market.SetSale(ctx, 0, alice)
	require.NoError(t, err)
	_, err = market.BuyFromReseller(ctx, 0, bob, decimal.NewFromInt(3))
	require.NoError(t, err)

	history, err := svc.GetAccountHistory(ctx, alice)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.CreditProceeds, history[0].Kind)
	assert.True(t, history[0].Amount.Equal(decimal.NewFromInt(2)))
}

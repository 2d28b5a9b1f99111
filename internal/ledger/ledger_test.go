package ledger_test

import (
	"context"
	"database/sql"
	"testing"

	"ms-ticket-market/internal/ledger"
	"ms-ticket-market/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupLedger(t *testing.T) (*ledger.DB, *bun.DB) {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	for _, model := range []interface{}{(*models.Balance)(nil), (*models.LedgerEntry)(nil)} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(context.Background())
		require.NoError(t, err)
	}
	return &ledger.DB{Bun: bunDB}, bunDB
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestApply_AccumulatesBalances(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()
	ticketID := int64(0)

	require.NoError(t, l.Apply(ctx, []models.Credit{
		{Account: "0xop", Amount: amount(1), Kind: models.CreditFee, TicketID: &ticketID},
		{Account: "0xa", Amount: amount(2), Kind: models.CreditProceeds, TicketID: &ticketID},
	}))
	require.NoError(t, l.Apply(ctx, []models.Credit{
		{Account: "0xop", Amount: amount(3), Kind: models.CreditFee},
	}))

	op, err := l.BalanceOf(ctx, "0xop")
	require.NoError(t, err)
	assert.True(t, op.Equal(amount(4)))

	seller, err := l.BalanceOf(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, seller.Equal(amount(2)))

	nobody, err := l.BalanceOf(ctx, "0xz")
	require.NoError(t, err)
	assert.True(t, nobody.IsZero())

	entries, err := l.Entries(ctx, "0xop")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.CreditFee, entries[0].Kind)
	require.NotNil(t, entries[0].TicketID)
	assert.Equal(t, int64(0), *entries[0].TicketID)
	assert.Nil(t, entries[1].TicketID)
}

func TestApply_SkipsZeroCredits(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Apply(ctx, []models.Credit{{Account: "0xb", Amount: decimal.Zero, Kind: models.CreditRefund}}))

	entries, err := l.Entries(ctx, "0xb")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApply_RejectsOverdraftAtomicallyInTx(t *testing.T) {
	l, bunDB := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Apply(ctx, []models.Credit{{Account: models.EscrowAccount, Amount: amount(5), Kind: models.CreditEscrow}}))

	err := bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return l.WithTx(tx).Apply(ctx, []models.Credit{
			{Account: "0xop", Amount: amount(6), Kind: models.CreditWithdrawal},
			{Account: models.EscrowAccount, Amount: amount(-6), Kind: models.CreditWithdrawal},
		})
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	op, err := l.BalanceOf(ctx, "0xop")
	require.NoError(t, err)
	assert.True(t, op.IsZero())

	escrow, err := l.BalanceOf(ctx, models.EscrowAccount)
	require.NoError(t, err)
	assert.True(t, escrow.Equal(amount(5)))
}

// Package ledger keeps custody balances: funds the marketplace holds in
// escrow and the amounts it owes to operators, sellers and refunded buyers.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-ticket-market/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type DB struct {
	Bun bun.IDB
}

func (d *DB) WithTx(tx bun.Tx) *DB {
	return &DB{Bun: tx}
}

func (d *DB) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	balance, err := d.balance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	if balance == nil {
		return decimal.Zero, nil
	}
	return balance.Amount, nil
}

func (d *DB) balance(ctx context.Context, account string) (*models.Balance, error) {
	var balance models.Balance
	err := d.Bun.NewSelect().
		Model(&balance).
		Where("account = ?", account).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Apply posts every credit in order. It must run inside the caller's
// transaction so a failed leg discards the whole batch.
func (d *DB) Apply(ctx context.Context, credits []models.Credit) error {
	now := time.Now().UTC()
	for _, credit := range credits {
		if credit.Amount.IsZero() {
			continue
		}
		if err := d.post(ctx, credit, now); err != nil {
			return fmt.Errorf("apply %s credit to %s: %w", credit.Kind, credit.Account, err)
		}
	}
	return nil
}

func (d *DB) post(ctx context.Context, credit models.Credit, now time.Time) error {
	current, err := d.balance(ctx, credit.Account)
	if err != nil {
		return err
	}

	amount := credit.Amount
	if current != nil {
		amount = current.Amount.Add(credit.Amount)
	}
	if amount.IsNegative() {
		return ErrInsufficientFunds
	}

	balance := models.Balance{Account: credit.Account, Amount: amount, UpdatedAt: now}
	if current == nil {
		_, err = d.Bun.NewInsert().Model(&balance).Exec(ctx)
	} else {
		_, err = d.Bun.NewUpdate().
			Model(&balance).
			Column("amount", "updated_at").
			WherePK().
			Exec(ctx)
	}
	if err != nil {
		return err
	}

	entry := models.LedgerEntry{
		TicketID:  credit.TicketID,
		Account:   credit.Account,
		Amount:    credit.Amount,
		Kind:      credit.Kind,
		CreatedAt: now,
	}
	_, err = d.Bun.NewInsert().Model(&entry).Exec(ctx)
	return err
}

// Entries lists the postings for an account, oldest first.
func (d *DB) Entries(ctx context.Context, account string) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("account = ?", account).
		Order("id ASC").
		Scan(ctx)
	return entries, err
}

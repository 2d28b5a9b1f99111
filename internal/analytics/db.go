package analytics

import (
	"context"

	"ms-ticket-market/internal/models"

	"github.com/uptrace/bun"
)

// DB handles analytics database operations
type DB struct {
	bun bun.IDB
}

func NewDB(db bun.IDB) *DB {
	return &DB{bun: db}
}

// TicketCounts holds the live catalog broken down by state.
type TicketCounts struct {
	Live   int `bun:"live"`
	Listed int `bun:"listed"`
	Used   int `bun:"used"`
}

func (db *DB) GetTicketCounts(ctx context.Context) (*TicketCounts, error) {
	var counts TicketCounts
	err := db.bun.NewRaw(`
		SELECT
			COUNT(*) AS live,
			COALESCE(SUM(CASE WHEN for_sale THEN 1 ELSE 0 END), 0) AS listed,
			COALESCE(SUM(CASE WHEN used THEN 1 ELSE 0 END), 0) AS used
		FROM tickets`).
		Scan(ctx, &counts)
	return &counts, err
}

// GetEntriesByKind loads ledger entries of the given kinds in insertion
// order. Amounts are summed in Go because they are stored as text.
func (db *DB) GetEntriesByKind(ctx context.Context, kinds ...models.CreditKind) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	err := db.bun.NewSelect().
		Model(&entries).
		Where("kind IN (?)", bun.In(kinds)).
		Order("id ASC").
		Scan(ctx)
	return entries, err
}

func (db *DB) GetEntriesByAccount(ctx context.Context, account string) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	err := db.bun.NewSelect().
		Model(&entries).
		Where("account = ?", account).
		Order("id ASC").
		Scan(ctx)
	return entries, err
}

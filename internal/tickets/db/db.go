package db

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

var (
	ErrNotFound       = errors.New("ticket not found")
	ErrSupplyExceeded = errors.New("ticket supply exceeded")
	ErrNoCatalogState = errors.New("catalog state row missing; run migrations")
)

const catalogStateID = 1

// DB is the ticket store. Bun is either the connection pool or an open
// transaction. No authorization happens here.
type DB struct {
	Bun         bun.IDB
	TotalSupply int64
}

func (d *DB) WithTx(tx bun.Tx) *DB {
	return &DB{Bun: tx, TotalSupply: d.TotalSupply}
}

// catalogState reads the id counter row. Migrations seed it; reads never
// write.
func (d *DB) catalogState(ctx context.Context) (*models.CatalogState, error) {
	var state models.CatalogState
	err := d.Bun.NewSelect().
		Model(&state).
		Where("id = ?", catalogStateID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCatalogState
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Minted returns how many tickets have ever been created, destroyed ones
// included.
func (d *DB) Minted(ctx context.Context) (int64, error) {
	state, err := d.catalogState(ctx)
	if err != nil {
		return 0, err
	}
	return state.NextTicketID, nil
}

func (d *DB) CreateTicket(ctx context.Context, owner string, price decimal.Decimal) (*models.Ticket, error) {
	state, err := d.catalogState(ctx)
	if err != nil {
		return nil, err
	}
	if d.TotalSupply > 0 && state.NextTicketID >= d.TotalSupply {
		return nil, ErrSupplyExceeded
	}

	now := time.Now().UTC()
	ticket := models.Ticket{
		ID:        state.NextTicketID,
		Owner:     owner,
		Price:     price,
		IssuedAt:  now,
		UpdatedAt: now,
	}
	if _, err := d.Bun.NewInsert().Model(&ticket).Exec(ctx); err != nil {
		return nil, err
	}

	state.NextTicketID++
	_, err = d.Bun.NewUpdate().
		Model(state).
		Column("next_ticket_id").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByID(ctx context.Context, id int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetAllTickets returns live tickets in creation order.
func (d *DB) GetAllTickets(ctx context.Context) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	err := d.Bun.NewSelect().
		Model(&tickets).
		Order("id ASC").
		Scan(ctx)
	return tickets, err
}

func (d *DB) CountByOwner(ctx context.Context, owner string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("owner = ?", owner).
		Count(ctx)
}

func (d *DB) DeleteTicket(ctx context.Context, id int64) error {
	res, err := d.Bun.NewDelete().
		Model((*models.Ticket)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *DB) SetPrice(ctx context.Context, id int64, price decimal.Decimal) error {
	return d.updateColumn(ctx, id, "price", price)
}

func (d *DB) SetForSale(ctx context.Context, id int64, forSale bool) error {
	return d.updateColumn(ctx, id, "for_sale", forSale)
}

// SetApprovedBuyer stores account in the approval slot; an empty account
// clears it.
func (d *DB) SetApprovedBuyer(ctx context.Context, id int64, account string) error {
	return d.updateColumn(ctx, id, "approved_buyer", account)
}

func (d *DB) SetUsed(ctx context.Context, id int64) error {
	return d.updateColumn(ctx, id, "used", true)
}

func (d *DB) SetOwner(ctx context.Context, id int64, owner string) error {
	return d.updateColumn(ctx, id, "owner", owner)
}

func (d *DB) updateColumn(ctx context.Context, id int64, column string, value interface{}) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("? = ?", bun.Ident(column), value).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update %s on ticket %d: %w", column, id, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Ticket is a transferable admission token. ApprovedBuyer is empty when no
// buyer has been pre-authorized.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID            int64           `bun:"id,pk" json:"id"`
	Owner         string          `bun:"owner,notnull" json:"owner"`
	Price         decimal.Decimal `bun:"price,type:varchar(80),notnull" json:"price"`
	ForSale       bool            `bun:"for_sale,notnull" json:"for_sale"`
	Used          bool            `bun:"used,notnull" json:"used"`
	ApprovedBuyer string          `bun:"approved_buyer" json:"approved_buyer,omitempty"`
	IssuedAt      time.Time       `bun:"issued_at,notnull" json:"issued_at"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

// CatalogState holds the single row that tracks id assignment. NextTicketID
// only grows, so destroyed ids are never handed out again.
type CatalogState struct {
	bun.BaseModel `bun:"table:catalog_state"`

	ID           int64 `bun:"id,pk"`
	NextTicketID int64 `bun:"next_ticket_id,notnull"`
}

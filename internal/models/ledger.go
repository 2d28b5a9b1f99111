package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// EscrowAccount is the contract's own custody account.
const EscrowAccount = "escrow"

type CreditKind string

const (
	CreditEscrow     CreditKind = "escrow"
	CreditFee        CreditKind = "fee"
	CreditProceeds   CreditKind = "proceeds"
	CreditRefund     CreditKind = "refund"
	CreditWithdrawal CreditKind = "withdrawal"
)

// Credit is one leg of a fund movement produced by a settlement. Amount is
// negative only when funds leave the escrow account.
type Credit struct {
	Account  string          `json:"account"`
	Amount   decimal.Decimal `json:"amount"`
	Kind     CreditKind      `json:"kind"`
	TicketID *int64          `json:"ticket_id,omitempty"`
}

type Balance struct {
	bun.BaseModel `bun:"table:balances"`

	Account   string          `bun:"account,pk" json:"account"`
	Amount    decimal.Decimal `bun:"amount,type:varchar(80),notnull" json:"amount"`
	UpdatedAt time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

// LedgerEntry is an append-only record of an applied credit.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:ledger_entries"`

	ID        int64           `bun:"id,pk,autoincrement" json:"id"`
	TicketID  *int64          `bun:"ticket_id" json:"ticket_id,omitempty"`
	Account   string          `bun:"account,notnull" json:"account"`
	Amount    decimal.Decimal `bun:"amount,type:varchar(80),notnull" json:"amount"`
	Kind      CreditKind      `bun:"kind,notnull" json:"kind"`
	CreatedAt time.Time       `bun:"created_at,notnull" json:"created_at"`
}

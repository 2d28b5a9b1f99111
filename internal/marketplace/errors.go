package marketplace

import (
	"errors"

	"ms-ticket-market/internal/ledger"
	ticketdb "ms-ticket-market/internal/tickets/db"
)

// Every error aborts its operation with no ticket or fund change.
var (
	ErrNotFound             = ticketdb.ErrNotFound
	ErrSupplyExceeded       = ticketdb.ErrSupplyExceeded
	ErrInsufficientFunds    = ledger.ErrInsufficientFunds
	ErrNotOwner             = errors.New("caller does not own the ticket")
	ErrNotOperator          = errors.New("caller is not the operator")
	ErrNotListed            = errors.New("ticket is not listed for sale")
	ErrNotApprovedBuyer     = errors.New("caller is not the approved buyer")
	ErrInsufficientPayment  = errors.New("insufficient payment")
	ErrPriceCeilingExceeded = errors.New("price exceeds the resale ceiling")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrInvalidAmount        = errors.New("amount must be a non-negative whole number")
	ErrAlreadyUsed          = errors.New("ticket already used")
	ErrSaleNotStarted       = errors.New("sale has not started")
)

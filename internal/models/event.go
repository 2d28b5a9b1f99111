package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TicketEventType string

const (
	TicketMinted    TicketEventType = "ticket.minted"
	TicketListed    TicketEventType = "ticket.listed"
	TicketUnlisted  TicketEventType = "ticket.unlisted"
	TicketRepriced  TicketEventType = "ticket.repriced"
	TicketApproved  TicketEventType = "ticket.approved"
	TicketSold      TicketEventType = "ticket.sold"
	TicketRedeemed  TicketEventType = "ticket.redeemed"
	TicketDestroyed TicketEventType = "ticket.destroyed"
	EscrowWithdrawn TicketEventType = "escrow.withdrawn"
)

// TicketEvent is published after a marketplace operation commits.
type TicketEvent struct {
	EventID      string          `json:"event_id"`
	Type         TicketEventType `json:"type"`
	TicketID     int64           `json:"ticket_id"`
	Account      string          `json:"account"`
	Counterparty string          `json:"counterparty,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Fee          decimal.Decimal `json:"fee"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

func NewTicketEvent(eventType TicketEventType, ticketID int64, account string) TicketEvent {
	return TicketEvent{
		EventID:    uuid.New().String(),
		Type:       eventType,
		TicketID:   ticketID,
		Account:    account,
		Price:      decimal.Zero,
		Fee:        decimal.Zero,
		OccurredAt: time.Now().UTC(),
	}
}

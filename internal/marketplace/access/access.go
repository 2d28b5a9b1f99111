// Package access holds the caller predicates gating marketplace operations.
// They only inspect state that has already been loaded.
package access

import "ms-ticket-market/internal/models"

type Control struct {
	operator string
}

func NewControl(operator string) Control {
	return Control{operator: operator}
}

func (c Control) Operator() string {
	return c.operator
}

func (c Control) IsOperator(account string) bool {
	return account != "" && account == c.operator
}

func (c Control) IsOwnerOf(ticket *models.Ticket, account string) bool {
	return ticket != nil && account != "" && ticket.Owner == account
}

// IsApprovedBuyer reports whether account holds the ticket's single approval
// slot. An empty slot approves nobody.
func (c Control) IsApprovedBuyer(ticket *models.Ticket, account string) bool {
	return ticket != nil && ticket.ApprovedBuyer != "" && ticket.ApprovedBuyer == account
}

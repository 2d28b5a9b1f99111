// Package marketplace runs the ticket lifecycle: primary sales, resale
// listings, buyer approvals and settlement. It is the only component that
// moves funds.
package marketplace

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"ms-ticket-market/internal/config"
	"ms-ticket-market/internal/ledger"
	"ms-ticket-market/internal/logger"
	"ms-ticket-market/internal/marketplace/access"
	"ms-ticket-market/internal/marketplace/fee"
	"ms-ticket-market/internal/models"
	"ms-ticket-market/internal/monitoring"
	ticketdb "ms-ticket-market/internal/tickets/db"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Receipt reports the outcome of a payable operation. Credits lists every
// fund movement applied with it.
type Receipt struct {
	Ticket  *models.Ticket  `json:"ticket,omitempty"`
	Fee     decimal.Decimal `json:"fee"`
	Credits []models.Credit `json:"credits"`
}

// CatalogInfo is the read-only view of the catalog configuration.
type CatalogInfo struct {
	Name                     string          `json:"name"`
	Symbol                   string          `json:"symbol"`
	StartDatetime            int64           `json:"start_datetime"`
	TotalSupply              int64           `json:"total_supply"`
	InitialPrice             decimal.Decimal `json:"initial_price"`
	MaxPriceFactorPercentage int64           `json:"max_price_factor_percentage"`
	FeePercentage            int64           `json:"fee_percentage"`
	Operator                 string          `json:"operator"`
	Minted                   int64           `json:"minted"`
}

type Service struct {
	// mu serializes every mutating operation in submission order.
	mu sync.Mutex

	Bun       *bun.DB
	Tickets   *ticketdb.DB
	Ledger    *ledger.DB
	Fee       *fee.Policy
	Access    access.Control
	Catalog   config.CatalogConfig
	Publisher Publisher
	Logger    *logger.Logger

	now func() time.Time
}

func NewService(bunDB *bun.DB, catalog config.CatalogConfig, publisher Publisher, log *logger.Logger) (*Service, error) {
	policy, err := fee.NewPolicy(catalog.FeePercentage)
	if err != nil {
		return nil, err
	}
	if catalog.Operator == "" || catalog.Operator == models.EscrowAccount {
		return nil, fmt.Errorf("%w: operator %q", ErrInvalidAccount, catalog.Operator)
	}
	// A ceiling below the mint price could not hold for a freshly minted listing.
	if f := catalog.MaxPriceFactorPercentage; f < 0 || (f > 0 && f < 100) {
		return nil, fmt.Errorf("max price factor %d must be 0 or at least 100", f)
	}
	if !isWholeAmount(catalog.InitialPrice) {
		return nil, fmt.Errorf("initial price: %w", ErrInvalidAmount)
	}
	if log == nil {
		log = logger.NewWithWriter(io.Discard)
	}
	return &Service{
		Bun:       bunDB,
		Tickets:   &ticketdb.DB{Bun: bunDB, TotalSupply: catalog.TotalSupply},
		Ledger:    &ledger.DB{Bun: bunDB},
		Fee:       policy,
		Access:    access.NewControl(catalog.Operator),
		Catalog:   catalog,
		Publisher: publisher,
		Logger:    log,
		now:       time.Now,
	}, nil
}

// execute runs fn as one transaction under the service lock. Ticket
// mutations and ledger credits commit together or not at all.
func (s *Service) execute(ctx context.Context, operation string, fn func(ctx context.Context, tickets *ticketdb.DB, funds *ledger.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.Tickets.WithTx(tx), s.Ledger.WithTx(tx))
	})
	monitoring.RecordOperation(operation, time.Since(start).Seconds(), err)
	if err != nil {
		s.Logger.Warn("MARKET", fmt.Sprintf("%s rejected: %v", operation, err))
	}
	return err
}

func (s *Service) publish(ctx context.Context, event models.TicketEvent) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.PublishTicketEvent(ctx, event); err != nil {
		s.Logger.Error("EVENTS", fmt.Sprintf("Failed to publish %s for ticket #%d: %v", event.Type, event.TicketID, err))
	}
}

// Buy mints a ticket to caller. The attached value must equal the initial
// price and is held in escrow.
func (s *Service) Buy(ctx context.Context, caller string, value decimal.Decimal) (*Receipt, error) {
	if err := s.validateAccount(caller); err != nil {
		return nil, err
	}
	if !isWholeAmount(value) {
		return nil, ErrInvalidAmount
	}
	if s.Catalog.EnforceStart && s.now().Unix() < s.Catalog.StartDatetime {
		return nil, ErrSaleNotStarted
	}
	if !value.Equal(s.Catalog.InitialPrice) {
		return nil, fmt.Errorf("%w: attached %s, price is %s", ErrInsufficientPayment, value, s.Catalog.InitialPrice)
	}

	var receipt Receipt
	err := s.execute(ctx, "buy", func(ctx context.Context, tickets *ticketdb.DB, funds *ledger.DB) error {
		ticket, err := tickets.CreateTicket(ctx, caller, value)
		if err != nil {
			return err
		}
		credits := []models.Credit{
			{Account: models.EscrowAccount, Amount: value, Kind: models.CreditEscrow, TicketID: &ticket.ID},
		}
		if err := funds.Apply(ctx, credits); err != nil {
			return err
		}
		receipt = Receipt{Ticket: ticket, Fee: decimal.Zero, Credits: credits}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordMint()
	s.Logger.LogTicket("BUY", receipt.Ticket.ID, fmt.Sprintf("minted to %s for %s", caller, value))
	event := models.NewTicketEvent(models.TicketMinted, receipt.Ticket.ID, caller)
	event.Price = value
	s.publish(ctx, event)
	return &receipt, nil
}

// SetSale lists the ticket. Every listing starts without an approved buyer.
func (s *Service) SetSale(ctx context.Context, id int64, caller string) (*models.Ticket, error) {
	var updated *models.Ticket
	err := s.execute(ctx, "set_sale", func(ctx context.Context, tickets *ticketdb.DB, _ *ledger.DB) error {
		ticket, err := s.ownedTicket(ctx, tickets, id, caller)
		if err != nil {
			return err
		}
		if err := tickets.SetForSale(ctx, id, true); err != nil {
			return err
		}
		if err := tickets.SetApprovedBuyer(ctx, id, ""); err != nil {
			return err
		}
		ticket.ForSale = true
		ticket.ApprovedBuyer = ""
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogTicket("LIST", id, fmt.Sprintf("listed by %s at %s", caller, updated.Price))
	event := models.NewTicketEvent(models.TicketListed, id, caller)
	event.Price = updated.Price
	event.Fee = s.Fee.Compute(updated.Price)
	s.publish(ctx, event)
	return updated, nil
}

// CancelSale withdraws a listing and drops any approval.
func (s *Service) CancelSale(ctx context.Context, id int64, caller string) (*models.Ticket, error) {
	var updated *models.Ticket
	err := s.execute(ctx, "cancel_sale", func(ctx context.Context, tickets *ticketdb.DB, _ *ledger.DB) error {
		ticket, err := s.ownedTicket(ctx, tickets, id, caller)
		if err != nil {
			return err
		}
		if !ticket.ForSale {
			return ErrNotListed
		}
		if err := tickets.SetForSale(ctx, id, false); err != nil {
			return err
		}
		if err := tickets.SetApprovedBuyer(ctx, id, ""); err != nil {
			return err
		}
		ticket.ForSale = false
		ticket.ApprovedBuyer = ""
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogTicket("UNLIST", id, fmt.Sprintf("listing cancelled by %s", caller))
	s.publish(ctx, models.NewTicketEvent(models.TicketUnlisted, id, caller))
	return updated, nil
}

// SetPrice changes the asking price. An existing approval is kept: it is
// bound to the buyer, not to the price.
func (s *Service) SetPrice(ctx context.Context, id int64, caller string, price decimal.Decimal) (*models.Ticket, error) {
	if !isWholeAmount(price) {
		return nil, ErrInvalidAmount
	}

	var updated *models.Ticket
	err := s.execute(ctx, "set_price", func(ctx context.Context, tickets *ticketdb.DB, _ *ledger.DB) error {
		ticket, err := s.ownedTicket(ctx, tickets, id, caller)
		if err != nil {
			return err
		}
		if ceiling, ok := s.PriceCeiling(); ok && price.GreaterThan(ceiling) {
			return fmt.Errorf("%w: %s > %s", ErrPriceCeilingExceeded, price, ceiling)
		}
		if err := tickets.SetPrice(ctx, id, price); err != nil {
			return err
		}
		ticket.Price = price
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogTicket("PRICE", id, fmt.Sprintf("repriced by %s to %s", caller, price))
	event := models.NewTicketEvent(models.TicketRepriced, id, caller)
	event.Price = price
	event.Fee = s.Fee.Compute(price)
	s.publish(ctx, event)
	return updated, nil
}

// ApproveBuy reserves a listed ticket for buyer, replacing any earlier
// approval.
func (s *Service) ApproveBuy(ctx context.Context, id int64, caller, buyer string) (*models.Ticket, error) {
	if err := s.validateAccount(buyer); err != nil {
		return nil, err
	}

	var updated *models.Ticket
	err := s.execute(ctx, "approve_buy", func(ctx context.Context, tickets *ticketdb.DB, _ *ledger.DB) error {
		ticket, err := s.ownedTicket(ctx, tickets, id, caller)
		if err != nil {
			return err
		}
		if buyer == caller {
			return fmt.Errorf("%w: owner cannot approve itself", ErrInvalidAccount)
		}
		if !ticket.ForSale {
			return ErrNotListed
		}
		if err := tickets.SetApprovedBuyer(ctx, id, buyer); err != nil {
			return err
		}
		ticket.ApprovedBuyer = buyer
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogTicket("APPROVE", id, fmt.Sprintf("%s approved %s", caller, buyer))
	event := models.NewTicketEvent(models.TicketApproved, id, caller)
	event.Counterparty = buyer
	event.Price = updated.Price
	s.publish(ctx, event)
	return updated, nil
}

// BuyFromReseller settles a listed ticket. The fee goes to the operator, the
// price to the seller and any excess back to the caller; ownership moves in
// the same transaction.
func (s *Service) BuyFromReseller(ctx context.Context, id int64, caller string, value decimal.Decimal) (*Receipt, error) {
	if err := s.validateAccount(caller); err != nil {
		return nil, err
	}
	if !isWholeAmount(value) {
		return nil, ErrInvalidAmount
	}

	var (
		receipt Receipt
		seller  string
		price   decimal.Decimal
	)
	err := s.execute(ctx, "buy_from_reseller", func(ctx context.Context, tickets *ticketdb.DB, funds *ledger.DB) error {
		ticket, err := tickets.GetTicketByID(ctx, id)
		if err != nil {
			return err
		}
		if !ticket.ForSale {
			return ErrNotListed
		}
		if ticket.ApprovedBuyer != "" && !s.Access.IsApprovedBuyer(ticket, caller) {
			return ErrNotApprovedBuyer
		}
		if s.Access.IsOwnerOf(ticket, caller) {
			return fmt.Errorf("%w: owner cannot buy its own listing", ErrInvalidAccount)
		}

		price = ticket.Price
		marketFee := s.Fee.Compute(price)
		required := price.Add(marketFee)
		if value.LessThan(required) {
			return fmt.Errorf("%w: attached %s, required %s", ErrInsufficientPayment, value, required)
		}
		seller = ticket.Owner

		if err := tickets.SetOwner(ctx, id, caller); err != nil {
			return err
		}
		if err := tickets.SetForSale(ctx, id, false); err != nil {
			return err
		}
		if err := tickets.SetApprovedBuyer(ctx, id, ""); err != nil {
			return err
		}

		credits := []models.Credit{
			{Account: s.Access.Operator(), Amount: marketFee, Kind: models.CreditFee, TicketID: &ticket.ID},
			{Account: seller, Amount: price, Kind: models.CreditProceeds, TicketID: &ticket.ID},
		}
		if excess := value.Sub(required); excess.IsPositive() {
			credits = append(credits, models.Credit{Account: caller, Amount: excess, Kind: models.CreditRefund, TicketID: &ticket.ID})
		}
		if err := funds.Apply(ctx, credits); err != nil {
			return err
		}

		ticket.Owner = caller
		ticket.ForSale = false
		ticket.ApprovedBuyer = ""
		receipt = Receipt{Ticket: ticket, Fee: marketFee, Credits: credits}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordResale(price, receipt.Fee)
	s.Logger.LogSettlement(id, fmt.Sprintf("%s -> %s at %s (fee %s)", seller, caller, price, receipt.Fee))
	event := models.NewTicketEvent(models.TicketSold, id, caller)
	event.Counterparty = seller
	event.Price = price
	event.Fee = receipt.Fee
	s.publish(ctx, event)
	return &receipt, nil
}

// Destroy removes a ticket permanently. Its id is never reassigned.
func (s *Service) Destroy(ctx context.Context, id int64, caller string) error {
	if !s.Access.IsOperator(caller) {
		s.Logger.LogSecurity("DESTROY", fmt.Sprintf("%s attempted to destroy ticket #%d", caller, id))
		return ErrNotOperator
	}

	var owner string
	err := s.execute(ctx, "destroy", func(ctx context.Context, tickets *ticketdb.DB, _ *ledger.DB) error {
		ticket, err := tickets.GetTicketByID(ctx, id)
		if err != nil {
			return err
		}
		owner = ticket.Owner
		return tickets.DeleteTicket(ctx, id)
	})
	if err != nil {
		return err
	}

	s.Logger.LogTicket("DESTROY", id, fmt.Sprintf("destroyed by operator, last owner %s", owner))
	event := models.NewTicketEvent(models.TicketDestroyed, id, caller)
	event.Counterparty = owner
	s.publish(ctx, event)
	return nil
}

// Redeem marks a ticket consumed at the venue. A used ticket stays used.
func (s *Service) Redeem(ctx context.Context, id int64, caller string) (*models.Ticket, error) {
	if !s.Access.IsOperator(caller) {
		s.Logger.LogSecurity("REDEEM", fmt.Sprintf("%s attempted to redeem ticket #%d", caller, id))
		return nil, ErrNotOperator
	}

	var updated *models.Ticket
	err := s.execute(ctx, "redeem", func(ctx context.Context, tickets *ticketdb.DB, _ *ledger.DB) error {
		ticket, err := tickets.GetTicketByID(ctx, id)
		if err != nil {
			return err
		}
		if ticket.Used {
			return ErrAlreadyUsed
		}
		if err := tickets.SetUsed(ctx, id); err != nil {
			return err
		}
		ticket.Used = true
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogTicket("REDEEM", id, fmt.Sprintf("admitted holder %s", updated.Owner))
	event := models.NewTicketEvent(models.TicketRedeemed, id, updated.Owner)
	s.publish(ctx, event)
	return updated, nil
}

// Withdraw releases every escrowed primary-sale payment to the operator.
func (s *Service) Withdraw(ctx context.Context, caller string) (*Receipt, error) {
	if !s.Access.IsOperator(caller) {
		s.Logger.LogSecurity("WITHDRAW", fmt.Sprintf("%s attempted an escrow withdrawal", caller))
		return nil, ErrNotOperator
	}

	receipt := Receipt{Fee: decimal.Zero, Credits: []models.Credit{}}
	err := s.execute(ctx, "withdraw", func(ctx context.Context, _ *ticketdb.DB, funds *ledger.DB) error {
		held, err := funds.BalanceOf(ctx, models.EscrowAccount)
		if err != nil {
			return err
		}
		if held.IsZero() {
			return nil
		}
		receipt.Credits = []models.Credit{
			{Account: models.EscrowAccount, Amount: held.Neg(), Kind: models.CreditWithdrawal},
			{Account: caller, Amount: held, Kind: models.CreditWithdrawal},
		}
		return funds.Apply(ctx, receipt.Credits)
	})
	if err != nil {
		return nil, err
	}

	if len(receipt.Credits) > 0 {
		amount := receipt.Credits[1].Amount
		s.Logger.Info("ESCROW", fmt.Sprintf("Released %s to operator %s", amount, caller))
		event := models.NewTicketEvent(models.EscrowWithdrawn, -1, caller)
		event.Price = amount
		s.publish(ctx, event)
	}
	return &receipt, nil
}

func (s *Service) ownedTicket(ctx context.Context, tickets *ticketdb.DB, id int64, caller string) (*models.Ticket, error) {
	ticket, err := tickets.GetTicketByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Access.IsOwnerOf(ticket, caller) {
		return nil, ErrNotOwner
	}
	return ticket, nil
}

// PriceCeiling returns initialPrice * maxPriceFactorPercentage / 100 when a
// ceiling is configured.
func (s *Service) PriceCeiling() (decimal.Decimal, bool) {
	if s.Catalog.MaxPriceFactorPercentage <= 0 {
		return decimal.Zero, false
	}
	return s.Catalog.InitialPrice.Mul(decimal.NewFromInt(s.Catalog.MaxPriceFactorPercentage)).Shift(-2), true
}

func (s *Service) validateAccount(account string) error {
	if account == "" || account == models.EscrowAccount {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	return nil
}

func isWholeAmount(v decimal.Decimal) bool {
	return !v.IsNegative() && v.IsInteger()
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Ticket, error) {
	return s.Tickets.GetTicketByID(ctx, id)
}

func (s *Service) GetAll(ctx context.Context) ([]models.Ticket, error) {
	return s.Tickets.GetAllTickets(ctx)
}

// BalanceOf counts the live tickets held by account.
func (s *Service) BalanceOf(ctx context.Context, account string) (int, error) {
	return s.Tickets.CountByOwner(ctx, account)
}

func (s *Service) GetPrice(ctx context.Context, id int64) (decimal.Decimal, error) {
	ticket, err := s.Tickets.GetTicketByID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return ticket.Price, nil
}

// GetFee returns the fee a buyer pays on top of the ticket's current price.
func (s *Service) GetFee(ctx context.Context, id int64) (decimal.Decimal, error) {
	price, err := s.GetPrice(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Fee.Compute(price), nil
}

// Funds returns the custody balance credited to account.
func (s *Service) Funds(ctx context.Context, account string) (decimal.Decimal, error) {
	return s.Ledger.BalanceOf(ctx, account)
}

func (s *Service) Name() string {
	return s.Catalog.Name
}

func (s *Service) Symbol() string {
	return s.Catalog.Symbol
}

func (s *Service) CatalogInfo(ctx context.Context) (*CatalogInfo, error) {
	minted, err := s.Tickets.Minted(ctx)
	if err != nil {
		return nil, err
	}
	return &CatalogInfo{
		Name:                     s.Catalog.Name,
		Symbol:                   s.Catalog.Symbol,
		StartDatetime:            s.Catalog.StartDatetime,
		TotalSupply:              s.Catalog.TotalSupply,
		InitialPrice:             s.Catalog.InitialPrice,
		MaxPriceFactorPercentage: s.Catalog.MaxPriceFactorPercentage,
		FeePercentage:            s.Fee.Percentage(),
		Operator:                 s.Access.Operator(),
		Minted:                   minted,
	}, nil
}

package sse

import (
	"context"
	"sync"

	"ms-ticket-market/internal/models"
)

const clientBuffer = 10

// TicketEventEmitter fans committed ticket events out to connected SSE
// clients, either for one ticket or for the whole catalog.
type TicketEventEmitter struct {
	// key: ticket id, value: client channels
	ticketClients     map[int64][]chan models.TicketEvent
	ticketClientMutex sync.RWMutex

	allClients     []chan models.TicketEvent
	allClientMutex sync.RWMutex
}

func NewTicketEventEmitter() *TicketEventEmitter {
	return &TicketEventEmitter{
		ticketClients: make(map[int64][]chan models.TicketEvent),
	}
}

// SubscribeAll adds a client to every ticket event. The channel is closed
// when ctx is done.
func (e *TicketEventEmitter) SubscribeAll(ctx context.Context) chan models.TicketEvent {
	clientChan := make(chan models.TicketEvent, clientBuffer)

	e.allClientMutex.Lock()
	e.allClients = append(e.allClients, clientChan)
	e.allClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeAllClient(clientChan)
	}()

	return clientChan
}

// SubscribeToTicket adds a client to the events of one ticket.
func (e *TicketEventEmitter) SubscribeToTicket(ctx context.Context, ticketID int64) chan models.TicketEvent {
	clientChan := make(chan models.TicketEvent, clientBuffer)

	e.ticketClientMutex.Lock()
	e.ticketClients[ticketID] = append(e.ticketClients[ticketID], clientChan)
	e.ticketClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeTicketClient(ticketID, clientChan)
	}()

	return clientChan
}

// PublishTicketEvent broadcasts without blocking; slow clients miss events.
func (e *TicketEventEmitter) PublishTicketEvent(_ context.Context, event models.TicketEvent) error {
	e.allClientMutex.RLock()
	for _, clientChan := range e.allClients {
		select {
		case clientChan <- event:
		default:
		}
	}
	e.allClientMutex.RUnlock()

	e.ticketClientMutex.RLock()
	for _, clientChan := range e.ticketClients[event.TicketID] {
		select {
		case clientChan <- event:
		default:
		}
	}
	e.ticketClientMutex.RUnlock()
	return nil
}

func (e *TicketEventEmitter) removeAllClient(clientChan chan models.TicketEvent) {
	e.allClientMutex.Lock()
	defer e.allClientMutex.Unlock()

	for i, ch := range e.allClients {
		if ch == clientChan {
			e.allClients = append(e.allClients[:i], e.allClients[i+1:]...)
			close(clientChan)
			break
		}
	}
}

func (e *TicketEventEmitter) removeTicketClient(ticketID int64, clientChan chan models.TicketEvent) {
	e.ticketClientMutex.Lock()
	defer e.ticketClientMutex.Unlock()

	clients := e.ticketClients[ticketID]
	for i, ch := range clients {
		if ch == clientChan {
			e.ticketClients[ticketID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.ticketClients[ticketID]) == 0 {
		delete(e.ticketClients, ticketID)
	}
}

func (e *TicketEventEmitter) AllClientCount() int {
	e.allClientMutex.RLock()
	defer e.allClientMutex.RUnlock()
	return len(e.allClients)
}

func (e *TicketEventEmitter) TicketClientCount(ticketID int64) int {
	e.ticketClientMutex.RLock()
	defer e.ticketClientMutex.RUnlock()
	return len(e.ticketClients[ticketID])
}

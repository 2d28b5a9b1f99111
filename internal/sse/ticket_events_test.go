package sse

import (
	"context"
	"testing"
	"time"

	"ms-ticket-market/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch chan models.TicketEvent) models.TicketEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.TicketEvent{}
	}
}

func TestPublish_RoutesByTicket(t *testing.T) {
	emitter := NewTicketEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := emitter.SubscribeAll(ctx)
	one := emitter.SubscribeToTicket(ctx, 1)
	two := emitter.SubscribeToTicket(ctx, 2)

	require.NoError(t, emitter.PublishTicketEvent(ctx, models.NewTicketEvent(models.TicketListed, 1, "alice")))

	assert.Equal(t, int64(1), receive(t, all).TicketID)
	assert.Equal(t, models.TicketListed, receive(t, one).Type)
	assert.Len(t, two, 0)
}

func TestPublish_SlowClientDoesNotBlock(t *testing.T) {
	emitter := NewTicketEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := emitter.SubscribeToTicket(ctx, 5)
	for i := 0; i < clientBuffer+5; i++ {
		require.NoError(t, emitter.PublishTicketEvent(ctx, models.NewTicketEvent(models.TicketRepriced, 5, "alice")))
	}
	assert.Len(t, ch, clientBuffer)
}

func TestUnsubscribeOnCancel(t *testing.T) {
	emitter := NewTicketEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	all := emitter.SubscribeAll(ctx)
	one := emitter.SubscribeToTicket(ctx, 3)
	assert.Equal(t, 1, emitter.AllClientCount())
	assert.Equal(t, 1, emitter.TicketClientCount(3))

	cancel()

	assert.Eventually(t, func() bool {
		return emitter.AllClientCount() == 0 && emitter.TicketClientCount(3) == 0
	}, time.Second, 10*time.Millisecond)

	_, ok := <-all
	assert.False(t, ok)
	_, ok = <-one
	assert.False(t, ok)
}

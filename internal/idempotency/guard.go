// Package idempotency stops a retried payable request from being applied
// twice. The first request with a key claims it; later requests replay the
// stored response.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const pendingMarker = "pending"

var ErrInProgress = errors.New("request with this idempotency key is still in progress")

type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type Guard struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	return &Guard{Client: client, TTL: ttl}
}

func key(scope, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, idempotencyKey)
}

// Acquire claims the key. It returns a stored response when the key already
// completed, or ErrInProgress when another request holds it.
func (g *Guard) Acquire(ctx context.Context, scope, idempotencyKey string) (*StoredResponse, error) {
	k := key(scope, idempotencyKey)
	ok, err := g.Client.SetNX(ctx, k, pendingMarker, g.TTL).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	val, err := g.Client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Expired between SetNX and Get; try once more.
		ok, err = g.Client.SetNX(ctx, k, pendingMarker, g.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, err
	}
	if val == pendingMarker {
		return nil, ErrInProgress
	}

	var stored StoredResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &stored, nil
}

// Complete records the response so retries replay it.
func (g *Guard) Complete(ctx context.Context, scope, idempotencyKey string, response StoredResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return g.Client.Set(ctx, key(scope, idempotencyKey), data, g.TTL).Err()
}

// Release drops a pending claim so the caller may retry after a failure.
// Completed keys are left alone.
func (g *Guard) Release(ctx context.Context, scope, idempotencyKey string) error {
	k := key(scope, idempotencyKey)
	val, err := g.Client.Get(ctx, k).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == pendingMarker {
		return g.Client.Del(ctx, k).Err()
	}
	return nil
}

package qr

import (
	"bytes"
	"testing"
	"time"

	"ms-ticket-market/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	gen, err := NewGenerator("secret", time.Minute)
	require.NoError(t, err)

	token, err := gen.Token(models.Ticket{ID: 7, Owner: "alice"})
	require.NoError(t, err)

	id, owner, err := gen.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "alice", owner)
}

func TestVerify_Rejects(t *testing.T) {
	gen, err := NewGenerator("secret", time.Minute)
	require.NoError(t, err)
	other, err := NewGenerator("other-secret", time.Minute)
	require.NoError(t, err)

	token, err := other.Token(models.Ticket{ID: 1, Owner: "alice"})
	require.NoError(t, err)

	_, _, err = gen.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	_, _, err = gen.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return issued }
	token, err = gen.Token(models.Ticket{ID: 1, Owner: "alice"})
	require.NoError(t, err)
	gen.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, _, err = gen.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestPNG(t *testing.T) {
	gen, err := NewGenerator("secret", time.Minute)
	require.NoError(t, err)

	png, err := gen.PNG(models.Ticket{ID: 3, Owner: "bob"}, 256)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestNewGenerator_RequiresSecret(t *testing.T) {
	_, err := NewGenerator("", time.Minute)
	assert.Error(t, err)
}

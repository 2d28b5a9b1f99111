package qr

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"ms-ticket-market/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/skip2/go-qrcode"
)

var ErrInvalidToken = errors.New("invalid ticket token")

// Claims identify the ticket and the owner at the time the code was issued.
type Claims struct {
	Owner string `json:"owner"`
	jwt.RegisteredClaims
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewGenerator(secret string, ttl time.Duration) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("QR secret key is required")
	}
	return &Generator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Token signs a short-lived admission token for the ticket.
func (g *Generator) Token(ticket models.Ticket) (string, error) {
	now := g.now()
	claims := Claims{
		Owner: ticket.Owner,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(ticket.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// PNG renders the admission token as a QR code image.
func (g *Generator) PNG(ticket models.Ticket, size int) ([]byte, error) {
	token, err := g.Token(ticket)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}

// Verify returns the ticket id and owner carried by a token.
func (g *Generator) Verify(token string) (int64, string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, claims.Owner, nil
}

package ticket_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-ticket-market/internal/auth"
	"ms-ticket-market/internal/config"
	"ms-ticket-market/internal/database"
	"ms-ticket-market/internal/idempotency"
	"ms-ticket-market/internal/marketplace"
	"ms-ticket-market/internal/models"
	"ms-ticket-market/internal/tickets/qr"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	operator = "0xoperator"
	alice    = "0xalice"
	bob      = "0xbob"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	handler *Handler
	router  http.Handler
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	bunDB, err := database.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	catalog := config.CatalogConfig{
		Name:                     "0.01 MATIC Game",
		Symbol:                   "PNT01MATIC",
		InitialPrice:             decimal.NewFromInt(2),
		FeePercentage:            50,
		MaxPriceFactorPercentage: 200,
		Operator:                 operator,
	}
	market, err := marketplace.NewService(bunDB, catalog, nil, nil)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	gen, err := qr.NewGenerator("test-secret", time.Minute)
	require.NoError(t, err)

	h := NewHandler(market, nil)
	h.Guard = idempotency.NewGuard(client, time.Minute)
	h.QR = gen

	r := chi.NewRouter()
	h.RegisterRoutes(r, auth.DevMiddleware())
	return &testServer{handler: h, router: r}
}

func (s *testServer) do(t *testing.T, method, path, account string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if account != "" {
		req.Header.Set(auth.DevAccountHeader, account)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func amountField(t *testing.T, data json.RawMessage, field string) decimal.Decimal {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	var d decimal.Decimal
	require.NoError(t, json.Unmarshal(m[field], &d))
	return d
}

func TestResaleFlow(t *testing.T) {
	s := setupServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/tickets", alice, map[string]string{"value": "2"})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	rec, _ = s.do(t, http.MethodPut, "/api/tickets/0/sale", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPut, "/api/tickets/0/approval", alice, map[string]string{"buyer": bob})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/tickets/0/fee", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, amountField(t, env.Data, "fee").Equal(decimal.NewFromInt(1)))

	rec, env = s.do(t, http.MethodPost, "/api/tickets/0/purchase", bob, map[string]string{"value": "3"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = s.do(t, http.MethodGet, "/api/tickets/0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ticket struct {
		Owner   string `json:"owner"`
		ForSale bool   `json:"for_sale"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ticket))
	assert.Equal(t, bob, ticket.Owner)
	assert.False(t, ticket.ForSale)

	_, env = s.do(t, http.MethodGet, "/api/accounts/"+alice+"/funds", "", nil)
	assert.True(t, amountField(t, env.Data, "funds").Equal(decimal.NewFromInt(2)))
	_, env = s.do(t, http.MethodGet, "/api/accounts/"+operator+"/funds", "", nil)
	assert.True(t, amountField(t, env.Data, "funds").Equal(decimal.NewFromInt(1)))
}

func TestErrorStatuses(t *testing.T) {
	s := setupServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/tickets", alice, map[string]string{"value": "2"})
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name    string
		method  string
		path    string
		account string
		body    interface{}
		want    int
	}{
		{"no account", http.MethodPut, "/api/tickets/0/sale", "", nil, http.StatusUnauthorized},
		{"not owner", http.MethodPut, "/api/tickets/0/sale", bob, nil, http.StatusForbidden},
		{"unknown ticket", http.MethodGet, "/api/tickets/42", "", nil, http.StatusNotFound},
		{"bad ticket id", http.MethodGet, "/api/tickets/abc", "", nil, http.StatusBadRequest},
		{"wrong payment", http.MethodPost, "/api/tickets", bob, map[string]string{"value": "1"}, http.StatusPaymentRequired},
		{"fractional payment", http.MethodPost, "/api/tickets", bob, map[string]string{"value": "2.5"}, http.StatusBadRequest},
		{"not listed", http.MethodPost, "/api/tickets/0/purchase", bob, map[string]string{"value": "3"}, http.StatusConflict},
		{"above ceiling", http.MethodPut, "/api/tickets/0/price", alice, map[string]string{"price": "5"}, http.StatusUnprocessableEntity},
		{"withdraw by non-operator", http.MethodPost, "/api/escrow/withdraw", alice, nil, http.StatusForbidden},
		{"malformed body", http.MethodPut, "/api/tickets/0/approval", alice, "not-an-object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(t, tt.method, tt.path, tt.account, tt.body)
			assert.Equal(t, tt.want, rec.Code, env.Error)
		})
	}
}

func TestBuy_IdempotencyKeyReplays(t *testing.T) {
	s := setupServer(t)
	body := map[string]string{"value": "2"}

	first, _ := s.do(t, http.MethodPost, "/api/tickets", alice, body, IdempotencyKeyHeader, "k1")
	require.Equal(t, http.StatusCreated, first.Code)

	second, _ := s.do(t, http.MethodPost, "/api/tickets", alice, body, IdempotencyKeyHeader, "k1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	_, env := s.do(t, http.MethodGet, "/api/accounts/"+alice+"/tickets/count", "", nil)
	var count struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, 1, count.Count)

	// Another caller with the same key is a different request.
	other, _ := s.do(t, http.MethodPost, "/api/tickets", bob, body, IdempotencyKeyHeader, "k1")
	assert.Equal(t, http.StatusCreated, other.Code)
	assert.Empty(t, other.Header().Get(ReplayedHeader))
}

func TestBuy_RejectedRequestReleasesKey(t *testing.T) {
	s := setupServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/tickets", alice, map[string]string{"value": "1"}, IdempotencyKeyHeader, "k2")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/tickets", alice, map[string]string{"value": "2"}, IdempotencyKeyHeader, "k2")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestQRAndRedeem(t *testing.T) {
	s := setupServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/tickets", alice, map[string]string{"value": "2"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/tickets/0/qr", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/tickets/0/qr", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	token, err := s.handler.QR.Token(mustTicket(t, s, 0))
	require.NoError(t, err)

	rec, _ = s.do(t, http.MethodPost, "/api/tickets/redeem", alice, map[string]string{"token": token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/tickets/redeem", operator, map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/tickets/redeem", operator, map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, _ = s.do(t, http.MethodPost, "/api/tickets/redeem", operator, map[string]string{"token": token})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRedeem_StaleOwnerRejected(t *testing.T) {
	s := setupServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/tickets", alice, map[string]string{"value": "2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	token, err := s.handler.QR.Token(mustTicket(t, s, 0))
	require.NoError(t, err)

	s.do(t, http.MethodPut, "/api/tickets/0/sale", alice, nil)
	s.do(t, http.MethodPut, "/api/tickets/0/approval", alice, map[string]string{"buyer": bob})
	rec, _ = s.do(t, http.MethodPost, "/api/tickets/0/purchase", bob, map[string]string{"value": "3"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/tickets/redeem", operator, map[string]string{"token": token})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDestroyAndWithdraw(t *testing.T) {
	s := setupServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/tickets", alice, map[string]string{"value": "2"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/api/tickets/0", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the operator destroys")

	rec, _ = s.do(t, http.MethodDelete, "/api/tickets/0", operator, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/tickets/0", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/escrow/withdraw", operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	_, env = s.do(t, http.MethodGet, "/api/accounts/"+operator+"/funds", "", nil)
	assert.True(t, amountField(t, env.Data, "funds").Equal(decimal.NewFromInt(2)))
}

func TestGetCatalog(t *testing.T) {
	s := setupServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/catalog", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info marketplace.CatalogInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "PNT01MATIC", info.Symbol)
	assert.Equal(t, int64(50), info.FeePercentage)
	assert.Equal(t, operator, info.Operator)
}

func TestStreamEvents_Disabled(t *testing.T) {
	s := setupServer(t)

	rec, _ := s.do(t, http.MethodGet, "/api/events/stream", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func mustTicket(t *testing.T, s *testServer, id int64) models.Ticket {
	t.Helper()
	ticket, err := s.handler.Market.Get(context.Background(), id)
	require.NoError(t, err)
	return *ticket
}

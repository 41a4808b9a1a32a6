package authority

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/auth"
	"github.com/orris-inc/adfree/internal/shared/config"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(config.RemoteConfig{
		BaseURL:         srv.URL,
		BreakerFailures: 3,
		BreakerTimeout:  time.Minute,
	}, auth.StaticTokenSource("token-1"), srv.Client(), logger.NewNopLogger())
	require.NoError(t, err)
	return c
}

func writeRecord(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"success":true,"data":`+data+`}`)
}

func TestHTTPClient_Fetch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/users/u1/entitlement", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		writeRecord(w, `{"user_id":"u1","entitled":true,"product_type":"lifetime","purchase_date":"2026-01-01T00:00:00Z","last_purchase_date":"2026-02-01T00:00:00Z","updated_at":"2026-02-01T00:00:00Z"}`)
	})

	record, err := c.Fetch(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, record.Entitled())
	assert.Equal(t, entitlement.ProductTypeLifetime, record.ProductType())
	require.NotNil(t, record.LastPurchaseDate())
	assert.True(t, record.LastPurchaseDate().Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
}

// Only the JSON literal true may grant. Aliases and truthy values are ignored.
func TestHTTPClient_Fetch_StrictEntitledDecoding(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{name: "literal true", data: `{"entitled":true}`, want: true},
		{name: "literal false", data: `{"entitled":false}`},
		{name: "null", data: `{"entitled":null}`},
		{name: "missing", data: `{}`},
		{name: "number one", data: `{"entitled":1}`},
		{name: "string true", data: `{"entitled":"true"}`},
		{name: "premium alias", data: `{"premium":true}`},
		{name: "is_premium alias", data: `{"is_premium":true}`},
		{name: "adFree alias", data: `{"adFree":true,"entitled":false}`},
		{name: "lifetime product without flag", data: `{"product_type":"lifetime","purchase_date":"2026-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeRecord(w, tt.data)
			})
			record, err := c.Fetch(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, record.Entitled())
		})
	}
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: entitlement.ErrNotFound},
		{name: "conflict", status: http.StatusConflict, wantErr: entitlement.ErrConflict},
		{name: "server error", status: http.StatusBadGateway, wantErr: entitlement.ErrNetwork},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: entitlement.ErrNetwork},
		{name: "malformed body", status: http.StatusOK, body: `<html>`, wantErr: entitlement.ErrNetwork},
		{name: "unsuccessful envelope", status: http.StatusOK, body: `{"success":false}`, wantErr: entitlement.ErrNetwork},
		{name: "record of another user", status: http.StatusOK, body: `{"success":true,"data":{"user_id":"u2","entitled":true}}`, wantErr: entitlement.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.Fetch(context.Background(), "u1")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPClient_Fetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, "u1")
	assert.ErrorIs(t, err, entitlement.ErrNetwork)
}

func TestHTTPClient_Upsert(t *testing.T) {
	purchasedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/users/u1/entitlement/transactions/tx 1", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "monthly", body["product_type"])
		assert.Equal(t, "adfree.monthly", body["product_id"])
		assert.Equal(t, "2026-10-01T12:00:00Z", body["purchased_at"])

		writeRecord(w, `{"user_id":"u1","entitled":true,"product_type":"monthly","updated_at":"2026-10-01T12:00:00Z"}`)
	})

	record, err := c.Upsert(context.Background(), "u1", entitlement.ProductTypeMonthly, entitlement.Transaction{
		TransactionID: "tx 1",
		ProductID:     "adfree.monthly",
		IsActive:      true,
		PurchasedAt:   purchasedAt,
	})
	require.NoError(t, err)
	assert.True(t, record.Entitled())
}

func TestHTTPClient_BreakerOpensOnFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "u1")
		require.ErrorIs(t, err, entitlement.ErrNetwork)
	}

	_, err := c.Fetch(context.Background(), "u1")
	assert.ErrorIs(t, err, entitlement.ErrNetwork)
	assert.Equal(t, int32(3), calls.Load(), "open breaker must short-circuit")
}

func TestHTTPClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 5; i++ {
		_, err := c.Fetch(context.Background(), "u1")
		require.ErrorIs(t, err, entitlement.ErrNotFound)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestNewHTTPClient_InvalidBaseURL(t *testing.T) {
	_, err := NewHTTPClient(config.RemoteConfig{BaseURL: "not a url"}, nil, nil, logger.NewNopLogger())
	assert.Error(t, err)
}

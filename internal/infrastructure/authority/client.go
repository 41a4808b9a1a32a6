// Package authority is the client side of the backend entitlement authority.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/auth"
	"github.com/orris-inc/adfree/internal/shared/config"
	"github.com/orris-inc/adfree/internal/shared/constants"
	"github.com/orris-inc/adfree/internal/shared/logger"
	"github.com/orris-inc/adfree/internal/shared/version"
)

const maxResponseBytes = 1 << 20

// HTTPClient talks to the entitlement API. Every failure that is not a
// definite answer from the authority is reported as entitlement.ErrNetwork.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     auth.TokenSource
	breaker    *gobreaker.CircuitBreaker
	logger     logger.Interface
}

// NewHTTPClient creates an authority client. Timeouts are applied by the
// caller through ctx.
func NewHTTPClient(cfg config.RemoteConfig, tokens auth.TokenSource, httpClient *http.Client, log logger.Interface) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breakerLog := log.With("component", "authority.breaker")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "entitlement-authority",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Definite answers mean the authority is healthy
		IsSuccessful: func(err error) bool {
			return err == nil ||
				stderrors.Is(err, entitlement.ErrNotFound) ||
				stderrors.Is(err, entitlement.ErrConflict) ||
				stderrors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerLog.Warnw("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &HTTPClient{
		baseURL:    base,
		httpClient: httpClient,
		tokens:     tokens,
		breaker:    breaker,
		logger:     log,
	}, nil
}

// recordPayload mirrors the authority response. Entitled is kept raw so only
// the JSON literal true grants.
type recordPayload struct {
	UserID           string          `json:"user_id"`
	Entitled         json.RawMessage `json:"entitled"`
	ProductType      string          `json:"product_type"`
	PurchaseDate     *time.Time      `json:"purchase_date"`
	LastPurchaseDate *time.Time      `json:"last_purchase_date"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type upsertBody struct {
	ProductType string     `json:"product_type"`
	ProductID   string     `json:"product_id,omitempty"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`
}

// Fetch returns the user's record
func (c *HTTPClient) Fetch(ctx context.Context, userID string) (*entitlement.Record, error) {
	path := fmt.Sprintf("%s/users/%s/entitlement", constants.APIPrefix, url.PathEscape(userID))
	return c.do(ctx, http.MethodGet, path, userID, nil)
}

// Upsert binds the transaction to the user. Replays return the current
// record; a transaction bound to different terms fails with ErrConflict.
func (c *HTTPClient) Upsert(ctx context.Context, userID string, productType entitlement.ProductType, tx entitlement.Transaction) (*entitlement.Record, error) {
	body := upsertBody{ProductType: productType.String(), ProductID: tx.ProductID}
	if !tx.PurchasedAt.IsZero() {
		at := tx.PurchasedAt.UTC()
		body.PurchasedAt = &at
	}
	path := fmt.Sprintf("%s/users/%s/entitlement/transactions/%s",
		constants.APIPrefix, url.PathEscape(userID), url.PathEscape(tx.TransactionID))
	return c.do(ctx, http.MethodPut, path, userID, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path, userID string, body any) (*entitlement.Record, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, userID, body)
	})
	if err != nil {
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warnw("entitlement authority circuit open", "method", method, "path", path)
			return nil, fmt.Errorf("%w: %v", entitlement.ErrNetwork, err)
		}
		return nil, err
	}
	return result.(*entitlement.Record), nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path, userID string, body any) (*entitlement.Record, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", constants.ContentTypeJSON)
	req.Header.Set(constants.HeaderClientVersion, version.Version)
	if body != nil {
		req.Header.Set("Content-Type", constants.ContentTypeJSON)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to obtain access token: %v", entitlement.ErrNetwork, err)
		}
		req.Header.Set(constants.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && stderrors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		c.logger.Warnw("entitlement authority request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", entitlement.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", entitlement.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, entitlement.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, entitlement.ErrConflict
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Warnw("entitlement authority returned error status",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("%w: unexpected status %d", entitlement.ErrNetwork, resp.StatusCode)
	}

	return decodeRecord(raw, userID)
}

// decodeRecord parses a success envelope. A body that cannot be understood
// is treated like an unreachable authority so the caller fails closed.
func decodeRecord(raw []byte, userID string) (*entitlement.Record, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", entitlement.ErrNetwork, err)
	}
	if !env.Success || len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: response carries no record", entitlement.ErrNetwork)
	}

	var payload recordPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed record: %v", entitlement.ErrNetwork, err)
	}
	if payload.UserID != "" && payload.UserID != userID {
		return nil, fmt.Errorf("%w: record belongs to another user", entitlement.ErrNetwork)
	}

	productType := entitlement.ProductType(payload.ProductType)
	if !productType.IsValid() {
		productType = entitlement.ProductTypeNone
	}

	record, err := entitlement.ReconstructRecord(
		userID,
		entitlement.ParseEntitled(payload.Entitled),
		productType,
		payload.PurchaseDate,
		payload.LastPurchaseDate,
		payload.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entitlement.ErrNetwork, err)
	}
	return record, nil
}

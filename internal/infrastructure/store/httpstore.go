// Package store implements the platform billing clients.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/pubsub"
	"github.com/orris-inc/adfree/internal/shared/config"
	"github.com/orris-inc/adfree/internal/shared/constants"
	"github.com/orris-inc/adfree/internal/shared/goroutine"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

const (
	defaultPageSize = 50
	eventBuffer     = 16

	purchaseCompleted = "completed"
	purchaseCancelled = "cancelled"
	purchasePending   = "pending"
)

// transactionPayload is the gateway's transaction representation
type transactionPayload struct {
	TransactionID string    `json:"transaction_id" yaml:"transaction_id"`
	ProductID     string    `json:"product_id" yaml:"product_id"`
	Active        bool      `json:"active" yaml:"active"`
	PurchasedAt   time.Time `json:"purchased_at" yaml:"purchased_at"`
}

func (p transactionPayload) toDomain() entitlement.Transaction {
	return entitlement.Transaction{
		TransactionID: p.TransactionID,
		ProductID:     p.ProductID,
		IsActive:      p.Active,
		PurchasedAt:   p.PurchasedAt.UTC(),
	}
}

type productsResponse struct {
	Products []entitlement.Product `json:"products"`
}

type purchaseRequest struct {
	AccountID string `json:"account_id"`
	ProductID string `json:"product_id"`
}

type purchaseResponse struct {
	Status      string              `json:"status"`
	Transaction *transactionPayload `json:"transaction,omitempty"`
}

type transactionsPage struct {
	Transactions  []transactionPayload `json:"transactions"`
	NextPageToken string               `json:"next_page_token"`
}

// HTTPStore is a client of the billing gateway REST API. Asynchronous
// transactions arrive over Redis Pub/Sub when an event bus is configured.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	accountID  string
	pageSize   int
	httpClient *http.Client
	bus        *pubsub.RedisStoreEventBus
	events     chan entitlement.Transaction
	logger     logger.Interface
}

// NewHTTPStore creates a billing gateway client for one store account.
// bus may be nil, in which case Events never delivers.
func NewHTTPStore(cfg config.StoreConfig, accountID string, bus *pubsub.RedisStoreEventBus, httpClient *http.Client, log logger.Interface) *HTTPStore {
	if httpClient == nil {
		// Purchases long-poll while the user is in the store UI, so no client timeout
		httpClient = &http.Client{}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &HTTPStore{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		accountID:  accountID,
		pageSize:   pageSize,
		httpClient: httpClient,
		bus:        bus,
		events:     make(chan entitlement.Transaction, eventBuffer),
		logger:     log,
	}
}

// Connect checks the gateway is reachable
func (s *HTTPStore) Connect(ctx context.Context) (*entitlement.StoreConnection, error) {
	resp, err := s.send(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: health status %d", entitlement.ErrStoreUnavailable, resp.StatusCode)
	}
	return &entitlement.StoreConnection{AccountID: s.accountID, ConnectedAt: time.Now().UTC()}, nil
}

// ListProducts looks up products by id. Unknown ids are simply absent.
func (s *HTTPStore) ListProducts(ctx context.Context, ids []string) (entitlement.Catalog, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))

	var out productsResponse
	if err := s.getJSON(ctx, "/v1/products?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	if out.Products == nil {
		return entitlement.Catalog{}, nil
	}
	return entitlement.Catalog(out.Products), nil
}

// Purchase opens the store purchase flow and waits for its outcome
func (s *HTTPStore) Purchase(ctx context.Context, productID string) (*entitlement.Transaction, error) {
	resp, err := s.send(ctx, http.MethodPost, "/v1/purchases", purchaseRequest{AccountID: s.accountID, ProductID: productID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out purchaseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed purchase response: %v", entitlement.ErrStoreUnavailable, err)
	}

	switch out.Status {
	case purchaseCompleted:
		if out.Transaction == nil {
			return nil, fmt.Errorf("%w: completed purchase without transaction", entitlement.ErrStoreUnavailable)
		}
		tx := out.Transaction.toDomain()
		return &tx, nil
	case purchaseCancelled:
		return nil, entitlement.ErrUserCancelled
	case purchasePending:
		return nil, entitlement.ErrPurchasePending
	default:
		return nil, fmt.Errorf("%w: unknown purchase status %q", entitlement.ErrStoreUnavailable, out.Status)
	}
}

// Restore lists the account's transactions page by page. Each range starts
// again from the first page.
func (s *HTTPStore) Restore(ctx context.Context, accountID string) iter.Seq2[entitlement.Transaction, error] {
	return func(yield func(entitlement.Transaction, error) bool) {
		token := ""
		seen := make(map[string]struct{})
		for {
			q := url.Values{}
			q.Set("page_size", strconv.Itoa(s.pageSize))
			if token != "" {
				q.Set("page_token", token)
			}

			var page transactionsPage
			path := fmt.Sprintf("/v1/accounts/%s/transactions?%s", url.PathEscape(accountID), q.Encode())
			if err := s.getJSON(ctx, path, &page); err != nil {
				yield(entitlement.Transaction{}, err)
				return
			}

			for _, p := range page.Transactions {
				if !yield(p.toDomain(), nil) {
					return
				}
			}

			if page.NextPageToken == "" {
				return
			}
			if _, ok := seen[page.NextPageToken]; ok {
				yield(entitlement.Transaction{}, fmt.Errorf("%w: page token %q repeated", entitlement.ErrStoreUnavailable, page.NextPageToken))
				return
			}
			seen[page.NextPageToken] = struct{}{}
			token = page.NextPageToken
		}
	}
}

// Events delivers transactions the store reports on its own
func (s *HTTPStore) Events() <-chan entitlement.Transaction {
	return s.events
}

// Listen forwards the account's store events to Events until ctx ends
func (s *HTTPStore) Listen(ctx context.Context) <-chan struct{} {
	if s.bus == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return goroutine.SafeGo(s.logger, "store-events", func() {
		err := s.bus.Subscribe(ctx, s.accountID, func(ctx context.Context, event pubsub.StoreTransactionEvent) {
			tx := entitlement.Transaction{
				TransactionID: event.TransactionID,
				ProductID:     event.ProductID,
				IsActive:      event.Active,
				PurchasedAt:   event.PurchasedAt.UTC(),
			}
			select {
			case s.events <- tx:
			case <-ctx.Done():
			}
		})
		if err != nil && !stderrors.Is(err, context.Canceled) {
			s.logger.Warnw("store event subscription ended", "error", err)
		}
	})
}

func (s *HTTPStore) getJSON(ctx context.Context, path string, out any) error {
	resp, err := s.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *HTTPStore) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", constants.ContentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", constants.ContentTypeJSON)
	}
	if s.apiKey != "" {
		req.Header.Set(constants.HeaderAPIKey, s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warnw("billing gateway request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", entitlement.ErrStoreUnavailable, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("%w: unexpected status %d", entitlement.ErrStoreUnavailable, resp.StatusCode)
}

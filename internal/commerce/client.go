// Package commerce is a client for the marketplace backend: a WordPress
// site running WooCommerce (REST v3), Dokan (REST v1), and The Events
// Calendar. It authenticates with a WooCommerce consumer key and secret.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/vendorbot/internal/config"
	"github.com/nugget/vendorbot/internal/httpkit"
)

const (
	wcPrefix     = "/wp-json/wc/v3"
	dokanPrefix  = "/wp-json/dokan/v1"
	eventsPrefix = "/wp-json/tribe/events/v1"

	defaultPerPage = 10
	maxPerPage     = 100
)

// APIError is a non-2xx response from the backend, decoded from the
// WordPress REST error envelope when present.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("commerce API %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("commerce API %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// Client talks to the marketplace REST API.
type Client struct {
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpkit.DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.ConsumerKey,
		secret:  cfg.ConsumerSecret,
		logger:  logger.With("component", "commerce"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

// Ping fetches one category to confirm the site and credentials.
func (c *Client) Ping(ctx context.Context) error {
	var out []Category
	return c.do(ctx, http.MethodGet, wcPrefix+"/products/categories", url.Values{"per_page": {"1"}}, nil, &out)
}

// GetStore returns the Dokan store with the given ID.
func (c *Client) GetStore(ctx context.Context, id int64) (*Store, error) {
	var s Store
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/stores/%d", dokanPrefix, id), nil, nil, &s); err != nil {
		return nil, fmt.Errorf("get store %d: %w", id, err)
	}
	return &s, nil
}

// SearchStores returns stores matching search (name or email).
func (c *Client) SearchStores(ctx context.Context, search string) ([]Store, error) {
	q := url.Values{"search": {search}, "per_page": {strconv.Itoa(maxPerPage)}}
	var out []Store
	if err := c.do(ctx, http.MethodGet, dokanPrefix+"/stores", q, nil, &out); err != nil {
		return nil, fmt.Errorf("search stores: %w", err)
	}
	return out, nil
}

// StoreStats returns the dashboard summary for a store.
func (c *Client) StoreStats(ctx context.Context, storeID int64) (*StoreStats, error) {
	var st StoreStats
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/stores/%d/stats", dokanPrefix, storeID), nil, nil, &st); err != nil {
		return nil, fmt.Errorf("store %d stats: %w", storeID, err)
	}
	return &st, nil
}

// ListStoreProducts lists a store's products.
func (c *Client) ListStoreProducts(ctx context.Context, storeID int64, pq ProductQuery) ([]Product, error) {
	q := pageValues(pq.PerPage, pq.Page)
	if pq.Status != "" {
		q.Set("status", pq.Status)
	}
	if pq.Search != "" {
		q.Set("search", pq.Search)
	}
	var out []Product
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/stores/%d/products", dokanPrefix, storeID), q, nil, &out); err != nil {
		return nil, fmt.Errorf("list products for store %d: %w", storeID, err)
	}
	return out, nil
}

// GetProduct returns one product.
func (c *Client) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/products/%d", wcPrefix, id), nil, nil, &p); err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return &p, nil
}

// CreateProduct creates a product.
func (c *Client) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	var p Product
	if err := c.do(ctx, http.MethodPost, wcPrefix+"/products", nil, in, &p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &p, nil
}

// UpdateProduct applies in to product id.
func (c *Client) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*Product, error) {
	var p Product
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s/products/%d", wcPrefix, id), nil, in, &p); err != nil {
		return nil, fmt.Errorf("update product %d: %w", id, err)
	}
	return &p, nil
}

// DeleteProduct trashes product id, or deletes it outright when force is set.
func (c *Client) DeleteProduct(ctx context.Context, id int64, force bool) (*Product, error) {
	q := url.Values{"force": {strconv.FormatBool(force)}}
	var p Product
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/products/%d", wcPrefix, id), q, nil, &p); err != nil {
		return nil, fmt.Errorf("delete product %d: %w", id, err)
	}
	return &p, nil
}

// ListStoreOrders lists a store's orders.
func (c *Client) ListStoreOrders(ctx context.Context, storeID int64, oq OrderQuery) ([]Order, error) {
	q := pageValues(oq.PerPage, oq.Page)
	if oq.Status != "" {
		q.Set("status", oq.Status)
	}
	if !oq.After.IsZero() {
		q.Set("after", oq.After.UTC().Format("2006-01-02T15:04:05"))
	}
	var out []Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/stores/%d/orders", dokanPrefix, storeID), q, nil, &out); err != nil {
		return nil, fmt.Errorf("list orders for store %d: %w", storeID, err)
	}
	return out, nil
}

// GetOrder returns one order.
func (c *Client) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/orders/%d", wcPrefix, id), nil, nil, &o); err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return &o, nil
}

// UpdateOrderStatus moves order id to status.
func (c *Client) UpdateOrderStatus(ctx context.Context, id int64, status string) (*Order, error) {
	body := map[string]string{"status": status}
	var o Order
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s/orders/%d", wcPrefix, id), nil, body, &o); err != nil {
		return nil, fmt.Errorf("update order %d: %w", id, err)
	}
	return &o, nil
}

// ListCategories lists product categories.
func (c *Client) ListCategories(ctx context.Context, cq CategoryQuery) ([]Category, error) {
	q := pageValues(cq.PerPage, 0)
	if cq.Search != "" {
		q.Set("search", cq.Search)
	}
	if cq.HideEmpty {
		q.Set("hide_empty", "true")
	}
	var out []Category
	if err := c.do(ctx, http.MethodGet, wcPrefix+"/products/categories", q, nil, &out); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// CreateEvent creates a calendar event.
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (*Event, error) {
	var ev Event
	if err := c.do(ctx, http.MethodPost, eventsPrefix+"/events", nil, in, &ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &ev, nil
}

func pageValues(perPage, page int) url.Values {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	q := url.Values{"per_page": {strconv.Itoa(perPage)}}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	return q
}

type wpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		c.logger.Log(ctx, config.LevelTrace, "request payload", "method", method, "path", path, "json", string(data))
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("commerce request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var wp wpError
		if json.Unmarshal([]byte(errBody), &wp) == nil && wp.Message != "" {
			apiErr.Code = wp.Code
			apiErr.Message = wp.Message
		}
		return apiErr
	}

	if out == nil {
		httpkit.DrainAndClose(resp.Body, 64*1024)
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "response payload", "path", path, "json", string(data))
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

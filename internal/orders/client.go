// Package orders is the request/response boundary to the order backend. The
// coordination core treats it as opaque: method in, updated order or error out.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"comanda/internal/domain"
	"comanda/internal/identity"
)

// Service is the command surface the board engine and checkout depend on.
type Service interface {
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Order, error)
	SetStatus(ctx context.Context, id int64, to domain.Status) (domain.Order, error)
	Create(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error)
}

// Client talks to the backend over HTTP with a bearer credential per request.
type Client struct {
	base   string
	http   *http.Client
	tokens identity.TokenSource
}

// NewClient creates a backend client. Timeout applies per request.
func NewClient(baseURL string, timeout time.Duration, tokens identity.TokenSource) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
	}
}

// ListByStatus fetches the full order set for one status.
func (c *Client) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Order, error) {
	u := fmt.Sprintf("%s/pedidos?estado=%s", c.base, url.QueryEscape(string(status)))
	var out []domain.Order
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("list %s orders: %w", status, err)
	}
	return out, nil
}

// SetStatus asks the backend to move an order to the given status and returns
// the updated record.
func (c *Client) SetStatus(ctx context.Context, id int64, to domain.Status) (domain.Order, error) {
	u := fmt.Sprintf("%s/pedidos/%d/estado", c.base, id)
	body := map[string]string{"estado": string(to)}
	var out domain.Order
	if err := c.do(ctx, http.MethodPut, u, body, &out); err != nil {
		return domain.Order{}, fmt.Errorf("set order %d to %s: %w", id, to, err)
	}
	return out, nil
}

// Create submits a finalized order request built by checkout.
func (c *Client) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	var out domain.Order
	if err := c.do(ctx, http.MethodPost, c.base+"/pedidos", req, &out); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("backend %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("backend %d", resp.StatusCode)
}

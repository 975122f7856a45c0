// Package catalog looks up articles from the backend through a bounded LRU
// cache, replacing the unbounded lookup map the storefront used to grow for a
// component's whole lifetime.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"comanda/internal/domain"
	"comanda/internal/identity"
)

// Client fetches and caches catalog articles.
type Client struct {
	base   string
	http   *http.Client
	tokens identity.TokenSource
	cache  *lru.Cache[int64, domain.Article]
	log    *slog.Logger
}

// NewClient creates a catalog client with a cache of at most size entries.
func NewClient(baseURL string, timeout time.Duration, size int, tokens identity.TokenSource, log *slog.Logger) (*Client, error) {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cache, err := lru.New[int64, domain.Article](size)
	if err != nil {
		return nil, fmt.Errorf("create article cache: %w", err)
	}
	return &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		cache:  cache,
		log:    log.With("component", "catalog"),
	}, nil
}

// Article returns the article by id, served from cache when possible.
func (c *Client) Article(ctx context.Context, id int64) (domain.Article, error) {
	if a, ok := c.cache.Get(id); ok {
		return a, nil
	}

	a, err := c.fetch(ctx, id)
	if err != nil {
		return domain.Article{}, err
	}
	c.cache.Add(id, a)
	return a, nil
}

// Invalidate drops one article from the cache; stock-change handlers call this
// so the next lookup refetches.
func (c *Client) Invalidate(id int64) {
	c.cache.Remove(id)
}

// Len reports how many articles the cache currently holds.
func (c *Client) Len() int { return c.cache.Len() }

func (c *Client) fetch(ctx context.Context, id int64) (domain.Article, error) {
	u := fmt.Sprintf("%s/articulos/%d", c.base, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Article{}, err
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return domain.Article{}, fmt.Errorf("fetch credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Article{}, fmt.Errorf("fetch article %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.Article{}, fmt.Errorf("fetch article %d: backend %d", id, resp.StatusCode)
	}

	var a domain.Article
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return domain.Article{}, fmt.Errorf("decode article %d: %w", id, err)
	}
	return a, nil
}

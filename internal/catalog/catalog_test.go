package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comanda/internal/domain"
	"comanda/internal/identity"
)

func articleServer(fetches *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/articulos/"), 10, 64)
		json.NewEncoder(w).Encode(domain.Article{
			ID:      id,
			Name:    fmt.Sprintf("articulo %d", id),
			Price:   float64(id) * 10,
			InStock: true,
		})
	}))
}

func TestArticle_CachesLookups(t *testing.T) {
	var fetches atomic.Int32
	srv := articleServer(&fetches)
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, 8, identity.Static("tok"), slog.Default())
	require.NoError(t, err)

	a, err := c.Article(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "articulo 3", a.Name)
	assert.Equal(t, 30.0, a.Price)

	_, err = c.Article(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load(), "second lookup must come from cache")
	assert.Equal(t, 1, c.Len())
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	var fetches atomic.Int32
	srv := articleServer(&fetches)
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, 8, identity.Static("tok"), slog.Default())
	require.NoError(t, err)

	_, err = c.Article(context.Background(), 3)
	require.NoError(t, err)

	c.Invalidate(3)
	_, err = c.Article(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestCache_IsBounded(t *testing.T) {
	var fetches atomic.Int32
	srv := articleServer(&fetches)
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, 2, identity.Static("tok"), slog.Default())
	require.NoError(t, err)

	for id := int64(1); id <= 5; id++ {
		_, err := c.Article(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	// The oldest entry was evicted, so it costs a fetch again.
	before := fetches.Load()
	_, err = c.Article(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, before+1, fetches.Load())
}

func TestArticle_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second, 8, identity.Static("tok"), slog.Default())
	require.NoError(t, err)

	_, err = c.Article(context.Background(), 42)
	require.Error(t, err)
	assert.Zero(t, c.Len(), "errors must not be cached")
}

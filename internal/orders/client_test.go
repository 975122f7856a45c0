package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comanda/internal/domain"
	"comanda/internal/identity"
)

func testClient(srv *httptest.Server) *Client {
	return NewClient(srv.URL, 2*time.Second, identity.Static("tok"))
}

func TestListByStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/pedidos", r.URL.Path)
		assert.Equal(t, "PENDIENTE", r.URL.Query().Get("estado"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]domain.Order{
			{ID: 1, Status: domain.StatusPending, Customer: "ana"},
			{ID: 2, Status: domain.StatusPending, Customer: "luis"},
		})
	}))
	defer srv.Close()

	got, err := testClient(srv).ListByStatus(context.Background(), domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "luis", got[1].Customer)
}

func TestSetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/pedidos/7/estado", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "EN_PREPARACION", body["estado"])

		json.NewEncoder(w).Encode(domain.Order{ID: 7, Status: domain.StatusInProgress})
	}))
	defer srv.Close()

	got, err := testClient(srv).SetStatus(context.Background(), 7, domain.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
}

func TestSetStatus_BackendRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "pedido ya entregado"})
	}))
	defer srv.Close()

	_, err := testClient(srv).SetStatus(context.Background(), 7, domain.StatusReady)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "pedido ya entregado")
}

func TestCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pedidos", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req domain.CreateOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ana", req.Customer)

		json.NewEncoder(w).Encode(domain.Order{ID: 99, Status: domain.StatusPending, Total: req.Total})
	}))
	defer srv.Close()

	got, err := testClient(srv).Create(context.Background(), domain.CreateOrderRequest{
		Customer: "ana",
		Total:    400,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.ID)
	assert.Equal(t, 400.0, got.Total)
}

func TestCredentialFailureShortCircuits(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits++ }))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, identity.Static(""))
	_, err := c.ListByStatus(context.Background(), domain.StatusPending)
	require.Error(t, err)
	assert.Zero(t, hits, "request must not leave the client without a credential")
}

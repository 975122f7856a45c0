package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusNext(t *testing.T) {
	next, ok := StatusPending.Next()
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, next)

	next, ok = StatusInProgress.Next()
	require.True(t, ok)
	assert.Equal(t, StatusReady, next)

	for _, s := range []Status{StatusReady, StatusDelivered, StatusCancelled} {
		_, ok := s.Next()
		assert.False(t, ok, "no forward transition from %s", s)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusReady.Terminal())
}

func TestVisibleStatuses(t *testing.T) {
	assert.Equal(t, []Status{StatusPending, StatusInProgress, StatusReady}, VisibleStatuses(RoleKitchen))
	assert.Equal(t, AllStatuses, VisibleStatuses(RoleCashier))
	assert.Equal(t, AllStatuses, VisibleStatuses(RoleAdmin))
	assert.Equal(t, []Status{StatusReady, StatusDelivered}, VisibleStatuses(RoleDelivery))
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{"tipo":"PEDIDO_NUEVO","pedidoId":42,"cliente":"ana","timestamp":"2026-08-28T12:00:00Z"}`)
	ev, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, EventNewOrder, ev.Type)
	assert.Equal(t, int64(42), ev.OrderID)
	assert.Equal(t, "ana", ev.Customer)
}

func TestParseEvent_Malformed(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	require.Error(t, err)

	_, err = ParseEvent([]byte(`{"tipo":"ALGO_RARO","timestamp":"t"}`))
	require.Error(t, err)

	_, err = ParseEvent([]byte(`{"pedidoId":1,"timestamp":"t"}`))
	require.Error(t, err)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "pedidos.nuevo.kitchen", TopicNewOrders(RoleKitchen))
	assert.Equal(t, "pedidos.cancelado.cashier", TopicCancellations(RoleCashier))
	assert.Equal(t, "clientes.ana.pedidos", TopicCustomer("ana"))
	assert.Equal(t, []string{
		"pedidos.nuevo.kitchen", "pedidos.estado", "pedidos.cancelado.kitchen",
	}, TopicsFor(RoleKitchen))
}

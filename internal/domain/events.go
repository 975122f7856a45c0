package domain

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates push events on the broker. Values match the wire
// protocol the backend emits.
type EventType string

const (
	EventNewOrder         EventType = "PEDIDO_NUEVO"
	EventStatusChanged    EventType = "CAMBIO_ESTADO"
	EventOrderCancelled   EventType = "PEDIDO_CANCELADO"
	EventReadyForDelivery EventType = "PEDIDO_LISTO_DELIVERY"
	EventPaymentConfirmed EventType = "PAGO_CONFIRMADO"
	EventTimeExtended     EventType = "TIEMPO_EXTENDIDO"
	EventError            EventType = "ERROR"
)

// Known reports whether t is an event type this client understands.
func (t EventType) Known() bool {
	switch t {
	case EventNewOrder, EventStatusChanged, EventOrderCancelled,
		EventReadyForDelivery, EventPaymentConfirmed, EventTimeExtended, EventError:
		return true
	}
	return false
}

// PushEvent is one message on a broker topic.
type PushEvent struct {
	Type         EventType `json:"tipo"`
	OrderID      int64     `json:"pedidoId,omitempty"`
	Status       string    `json:"estado,omitempty"`
	Customer     string    `json:"cliente,omitempty"`
	ExtraMinutes int       `json:"minutosExtra,omitempty"`
	PaymentKind  string    `json:"tipoPago,omitempty"`
	Timestamp    string    `json:"timestamp"`
}

// ParseEvent decodes a push payload. Unknown or missing event types are an
// error so the delivery pump can drop the message instead of dispatching it.
func ParseEvent(body []byte) (PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return PushEvent{}, fmt.Errorf("decode push event: %w", err)
	}
	if !ev.Type.Known() {
		return PushEvent{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// Topics are dot-separated routing keys on the orders topic exchange.

// TopicNewOrders is the per-role broadcast channel for freshly placed orders.
func TopicNewOrders(r Role) string { return fmt.Sprintf("pedidos.nuevo.%s", r) }

// TopicStatusChanges is the channel every role shares for status transitions.
const TopicStatusChanges = "pedidos.estado"

// TopicCancellations is the role-scoped cancellation channel.
func TopicCancellations(r Role) string { return fmt.Sprintf("pedidos.cancelado.%s", r) }

// TopicCustomer is the private channel carrying one customer's own order events.
func TopicCustomer(customerID string) string {
	return fmt.Sprintf("clientes.%s.pedidos", customerID)
}

// TopicsFor returns the standing subscription set a role dashboard declares on
// mount. The customer role subscribes per customer id instead.
func TopicsFor(r Role) []string {
	return []string{TopicNewOrders(r), TopicStatusChanges, TopicCancellations(r)}
}

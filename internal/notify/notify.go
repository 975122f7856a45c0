// Package notify carries notification intents out of the coordination core.
// The core decides that something is worth telling the operator; how an intent
// is rendered (toast, sound, badge) is the consumer's business.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	"comanda/internal/domain"
)

// Kind classifies an intent.
type Kind string

const (
	KindNewOrder         Kind = "new_order"
	KindStatusChanged    Kind = "status_changed"
	KindOrderCancelled   Kind = "order_cancelled"
	KindReadyForDelivery Kind = "ready_for_delivery"
	KindPaymentConfirmed Kind = "payment_confirmed"
	KindRealtimeDown     Kind = "realtime_down"
)

// Intent is a single notification the UI layer should surface.
type Intent struct {
	Kind     Kind
	OrderID  int64
	Customer string
	Message  string
	At       time.Time
}

// Sink receives intents. Implementations must not block the caller.
type Sink interface {
	Notify(Intent)
}

// Func adapts a function to the Sink interface.
type Func func(Intent)

func (f Func) Notify(i Intent) { f(i) }

// LogSink renders intents to the structured log, the default for headless runs.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Notify(i Intent) {
	s.Log.Info("notification",
		"kind", string(i.Kind),
		"order_id", i.OrderID,
		"customer", i.Customer,
		"message", i.Message,
	)
}

// FromEvent maps a push event to the intent it implies, if any.
func FromEvent(ev domain.PushEvent) (Intent, bool) {
	i := Intent{OrderID: ev.OrderID, Customer: ev.Customer, At: time.Now().UTC()}
	switch ev.Type {
	case domain.EventNewOrder:
		i.Kind = KindNewOrder
		i.Message = fmt.Sprintf("Nuevo pedido #%d", ev.OrderID)
	case domain.EventStatusChanged:
		i.Kind = KindStatusChanged
		i.Message = fmt.Sprintf("Pedido #%d: %s", ev.OrderID, ev.Status)
	case domain.EventOrderCancelled:
		i.Kind = KindOrderCancelled
		i.Message = fmt.Sprintf("Pedido #%d cancelado", ev.OrderID)
	case domain.EventReadyForDelivery:
		i.Kind = KindReadyForDelivery
		i.Message = fmt.Sprintf("Pedido #%d listo para delivery", ev.OrderID)
	case domain.EventPaymentConfirmed:
		i.Kind = KindPaymentConfirmed
		i.Message = fmt.Sprintf("Pago confirmado para pedido #%d (%s)", ev.OrderID, ev.PaymentKind)
	default:
		return Intent{}, false
	}
	return i, true
}

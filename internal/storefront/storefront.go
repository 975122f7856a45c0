// Package storefront ties the customer-facing pieces together: catalog
// lookups feed the cart, checkout hands the finalized order to the backend,
// and the customer's private topic carries their order's lifecycle back.
package storefront

import (
	"context"
	"log/slog"

	"comanda/internal/broker"
	"comanda/internal/cart"
	"comanda/internal/catalog"
	"comanda/internal/domain"
	"comanda/internal/notify"
	"comanda/internal/orders"
	"comanda/internal/router"
)

// Storefront is the customer session.
type Storefront struct {
	customer string
	catalog  *catalog.Client
	cart     *cart.Cart
	backend  orders.Service
	router   *router.Router
	sink     notify.Sink
	log      *slog.Logger

	sub *broker.Subscription
}

// New creates a storefront session for one customer.
func New(customer string, cat *catalog.Client, ct *cart.Cart, backend orders.Service, rt *router.Router, sink notify.Sink, log *slog.Logger) *Storefront {
	return &Storefront{
		customer: customer,
		catalog:  cat,
		cart:     ct,
		backend:  backend,
		router:   rt,
		sink:     sink,
		log:      log.With("component", "storefront", "customer", customer),
	}
}

// Cart exposes the underlying cart for quantity edits and delivery choices.
func (s *Storefront) Cart() *cart.Cart { return s.cart }

// AddArticle resolves an article through the catalog cache and puts it in the
// cart. Stock rejection propagates from the cart.
func (s *Storefront) AddArticle(ctx context.Context, articleID int64, quantity int) error {
	article, err := s.catalog.Article(ctx, articleID)
	if err != nil {
		return err
	}
	return s.cart.Add(article, quantity)
}

// Checkout submits the cart. On success the cart is cleared and the placed
// order is returned; it shows up on the boards through push or the next poll.
func (s *Storefront) Checkout(ctx context.Context) (domain.Order, error) {
	return s.cart.Checkout(ctx, s.backend, s.customer)
}

// Listen opens the customer's private order channel. Must be balanced with
// Close on every exit path of the session.
func (s *Storefront) Listen() bool {
	if s.sub != nil {
		return true
	}
	s.sub = s.router.Subscribe(domain.TopicCustomer(s.customer), s.handleEvent)
	return s.sub != nil
}

// Close releases the subscription. Idempotent.
func (s *Storefront) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

func (s *Storefront) handleEvent(ev domain.PushEvent) {
	if intent, ok := notify.FromEvent(ev); ok {
		s.sink.Notify(intent)
		return
	}
	if ev.Type == domain.EventTimeExtended {
		s.sink.Notify(notify.Intent{
			Kind:    notify.KindStatusChanged,
			OrderID: ev.OrderID,
			Message: "Tu pedido se demora unos minutos más",
		})
	}
}

// Package cart maintains the order a customer is building. Every total is a
// pure recomputation over the current lines; nothing incremental can drift.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"comanda/internal/domain"
	"comanda/internal/orders"
)

var (
	// ErrOutOfStock rejects adding an article flagged stock-insufficient.
	ErrOutOfStock = errors.New("article out of stock")
	// ErrEmptyCart rejects checkout with no lines.
	ErrEmptyCart = errors.New("cart is empty")
)

// Config tunes the pricing rules.
type Config struct {
	// DeliveryFee is the fixed surcharge applied when the mode is Delivery.
	DeliveryFee float64
	// DeliveryBufferMinutes is added on top of the slowest line's prep time
	// when the mode is Delivery.
	DeliveryBufferMinutes int
}

// Cart is the in-progress order with its derived pricing.
type Cart struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	items    []domain.CartItem // insertion order; keyed by ArticleID
	delivery domain.DeliveryInfo
}

// New creates an empty cart with default delivery info (pick-up, no notes).
func New(cfg Config, log *slog.Logger) *Cart {
	if cfg.DeliveryFee <= 0 {
		cfg.DeliveryFee = 200
	}
	if cfg.DeliveryBufferMinutes <= 0 {
		cfg.DeliveryBufferMinutes = 15
	}
	return &Cart{
		cfg:      cfg,
		log:      log.With("component", "cart"),
		delivery: domain.DefaultDeliveryInfo(),
	}
}

// Add puts quantity units of an article in the cart, merging with an existing
// line for the same article. Out-of-stock articles are rejected as a logged
// no-op.
func (c *Cart) Add(article domain.Article, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	if !article.InStock {
		c.log.Warn("rejected out-of-stock article", "article_id", article.ID, "name", article.Name)
		return fmt.Errorf("%w: %s", ErrOutOfStock, article.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(article.ID); i >= 0 {
		c.items[i].Quantity += quantity
		return nil
	}
	c.items = append(c.items, domain.CartItem{
		ArticleID:   article.ID,
		Name:        article.Name,
		UnitPrice:   article.Price,
		Quantity:    quantity,
		ImageRef:    article.ImageRef,
		PrepMinutes: article.PrepMinutes,
	})
	return nil
}

// Remove drops a line entirely. Removing an absent article is a no-op.
func (c *Cart) Remove(articleID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(articleID)
}

// Increment bumps a line's quantity by one. No-op for absent lines.
func (c *Cart) Increment(articleID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(articleID); i >= 0 {
		c.items[i].Quantity++
	}
}

// Decrement lowers a line's quantity by one; a line reaching zero is removed,
// never kept. No-op for absent lines.
func (c *Cart) Decrement(articleID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(articleID)
	if i < 0 {
		return
	}
	if c.items[i].Quantity <= 1 {
		c.removeLocked(articleID)
		return
	}
	c.items[i].Quantity--
}

// SetQuantity forces a line's quantity; n <= 0 removes the line.
func (c *Cart) SetQuantity(articleID int64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		c.removeLocked(articleID)
		return
	}
	if i := c.indexLocked(articleID); i >= 0 {
		c.items[i].Quantity = n
	}
}

// SetDeliveryMode switches between delivery and pick-up; totals and estimated
// time follow immediately.
func (c *Cart) SetDeliveryMode(mode domain.DeliveryMode) {
	c.mu.Lock()
	c.delivery.Mode = mode
	c.mu.Unlock()
}

// SetNotes attaches order notes.
func (c *Cart) SetNotes(notes string) {
	c.mu.Lock()
	c.delivery.Notes = notes
	c.mu.Unlock()
}

// SetAddress picks the delivery address.
func (c *Cart) SetAddress(addressID *int64) {
	c.mu.Lock()
	c.delivery.AddressID = addressID
	c.mu.Unlock()
}

// Delivery returns the current delivery choices.
func (c *Cart) Delivery() domain.DeliveryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivery
}

// Items returns a copy of the current lines.
func (c *Cart) Items() []domain.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CartItem, len(c.items))
	copy(out, c.items)
	return out
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) == 0
}

// TotalQuantity is the sum of line quantities.
func (c *Cart) TotalQuantity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

// Subtotal is the sum of unit price times quantity over all lines.
func (c *Cart) Subtotal() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subtotalLocked()
}

func (c *Cart) subtotalLocked() float64 {
	total := 0.0
	for _, it := range c.items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}

// DeliveryCost is the fixed surcharge when the mode is Delivery, else zero.
func (c *Cart) DeliveryCost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliveryCostLocked()
}

func (c *Cart) deliveryCostLocked() float64 {
	if c.delivery.Mode == domain.ModeDelivery {
		return c.cfg.DeliveryFee
	}
	return 0
}

// Total is subtotal plus delivery cost.
func (c *Cart) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subtotalLocked() + c.deliveryCostLocked()
}

// EstimatedMinutes is the slowest line's prep time (lines cook in parallel),
// plus the delivery buffer when the mode is Delivery.
func (c *Cart) EstimatedMinutes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	longest := 0
	for _, it := range c.items {
		if it.PrepMinutes > longest {
			longest = it.PrepMinutes
		}
	}
	if c.delivery.Mode == domain.ModeDelivery {
		longest += c.cfg.DeliveryBufferMinutes
	}
	return longest
}

// Clear empties the cart and resets delivery info to defaults. Called after a
// successful submission and nowhere else automatically.
func (c *Cart) Clear() {
	c.mu.Lock()
	c.items = nil
	c.delivery = domain.DefaultDeliveryInfo()
	c.mu.Unlock()
}

// Checkout builds the finalized order request, submits it, and clears the
// cart only when the backend accepted it.
func (c *Cart) Checkout(ctx context.Context, svc orders.Service, customer string) (domain.Order, error) {
	c.mu.Lock()
	if len(c.items) == 0 {
		c.mu.Unlock()
		return domain.Order{}, ErrEmptyCart
	}
	req := domain.CreateOrderRequest{
		Customer:          customer,
		Items:             make([]domain.OrderItem, 0, len(c.items)),
		DeliveryMode:      c.delivery.Mode,
		DeliveryAddressID: c.delivery.AddressID,
		Notes:             c.delivery.Notes,
		Subtotal:          c.subtotalLocked(),
		DeliveryCost:      c.deliveryCostLocked(),
	}
	req.Total = req.Subtotal + req.DeliveryCost
	for _, it := range c.items {
		req.Items = append(req.Items, domain.OrderItem{
			ArticleID: it.ArticleID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	c.mu.Unlock()

	placed, err := svc.Create(ctx, req)
	if err != nil {
		// Cart stays intact so the customer can retry.
		return domain.Order{}, err
	}

	c.Clear()
	c.log.Info("order placed", "order_id", placed.ID, "total", placed.Total)
	return placed, nil
}

func (c *Cart) indexLocked(articleID int64) int {
	for i, it := range c.items {
		if it.ArticleID == articleID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeLocked(articleID int64) {
	for i, it := range c.items {
		if it.ArticleID == articleID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

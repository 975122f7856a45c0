// Package board keeps the authoritative per-role view of active orders,
// reconciling full refreshes, push events, and locally issued transition
// commands.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"comanda/internal/domain"
	"comanda/internal/metrics"
	"comanda/internal/notify"
	"comanda/internal/orders"
)

var (
	// ErrTransitionInFlight rejects a duplicate transition while one is
	// outstanding for the same order.
	ErrTransitionInFlight = errors.New("transition already in flight")
	// ErrOrderNotFound means the order is not in the expected column.
	ErrOrderNotFound = errors.New("order not found on board")
	// ErrNoForwardTransition means the status has no next step on the
	// preparation track.
	ErrNoForwardTransition = errors.New("no forward transition")
	// ErrCommandNotAllowed rejects cashier-level commands from roles that do
	// not hold them.
	ErrCommandNotAllowed = errors.New("command not allowed for role")
)

// Config tunes the engine.
type Config struct {
	Role         domain.Role
	PollInterval time.Duration
	// EventRefreshInterval floors how often push events may trigger a full
	// refresh; the poll loop is the backstop for coalesced bursts.
	EventRefreshInterval time.Duration
}

// Publisher pushes an event to a broker topic; false means not connected and
// nothing was sent.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) bool
}

// Engine is the order board state engine for one role dashboard.
type Engine struct {
	cfg      Config
	svc      orders.Service
	sink     notify.Sink
	log      *slog.Logger
	visible  []domain.Status
	limiter  *rate.Limiter
	now      func() time.Time
	announce Publisher

	mu         sync.Mutex
	columns    map[domain.Status][]domain.Order
	inflight   map[int64]struct{}
	selected   int64
	hasSel     bool
	nextSeq    uint64
	appliedSeq uint64
}

// New creates an engine with empty columns for the role's visible statuses.
func New(cfg Config, svc orders.Service, sink notify.Sink, log *slog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.EventRefreshInterval <= 0 {
		cfg.EventRefreshInterval = time.Second
	}
	e := &Engine{
		cfg:      cfg,
		svc:      svc,
		sink:     sink,
		log:      log.With("component", "board", "role", string(cfg.Role)),
		visible:  domain.VisibleStatuses(cfg.Role),
		limiter:  rate.NewLimiter(rate.Every(cfg.EventRefreshInterval), 1),
		now:      time.Now,
		columns:  make(map[domain.Status][]domain.Order),
		inflight: make(map[int64]struct{}),
	}
	for _, s := range e.visible {
		e.columns[s] = nil
	}
	return e
}

// Run refreshes once, then polls on the configured interval until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	if err := e.Refresh(ctx); err != nil {
		e.log.Error("initial refresh failed", "err", err)
	}

	t := time.NewTicker(e.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.Refresh(ctx); err != nil {
				e.log.Error("poll refresh failed", "err", err)
			}
		}
	}
}

// Refresh fetches every visible column in parallel and replaces the board
// wholesale. Each refresh carries a monotonic sequence number; a result that
// resolves after a newer refresh has already applied is discarded, so a slow
// fetch cannot overwrite fresher state.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	e.nextSeq++
	seq := e.nextSeq
	statuses := e.visible
	e.mu.Unlock()

	start := time.Now()
	fresh := make(map[domain.Status][]domain.Order, len(statuses))
	var fmu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, status := range statuses {
		status := status
		g.Go(func() error {
			list, err := e.svc.ListByStatus(gctx, status)
			if err != nil {
				return err
			}
			fmu.Lock()
			fresh[status] = list
			fmu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refresh board: %w", err)
	}
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())

	e.mu.Lock()
	defer e.mu.Unlock()
	if seq <= e.appliedSeq {
		metrics.StaleRefreshes.Inc()
		e.log.Debug("discarding stale refresh", "seq", seq, "applied", e.appliedSeq)
		return nil
	}
	e.appliedSeq = seq
	for status, list := range fresh {
		// Re-tag orders whose transition is still outstanding.
		for i := range list {
			if _, ok := e.inflight[list[i].ID]; ok {
				list[i].InFlight = true
			}
		}
		e.columns[status] = list
	}
	return nil
}

// Transition advances an order one step on the preparation track
// (Pending -> InProgress -> Ready). The in-flight guard is taken before the
// server call and released in its completion path; a concurrent call for the
// same order is rejected without touching the network.
func (e *Engine) Transition(ctx context.Context, id int64, from domain.Status) (domain.Order, error) {
	next, ok := from.Next()
	if !ok {
		return domain.Order{}, fmt.Errorf("%w from %s", ErrNoForwardTransition, from)
	}
	return e.command(ctx, id, from, next)
}

// Deliver marks a ready order as delivered. Cashier-level command.
func (e *Engine) Deliver(ctx context.Context, id int64) (domain.Order, error) {
	if !e.commandRole() {
		return domain.Order{}, ErrCommandNotAllowed
	}
	return e.command(ctx, id, domain.StatusReady, domain.StatusDelivered)
}

// Cancel cancels an order from any non-terminal column. Cashier-level command.
func (e *Engine) Cancel(ctx context.Context, id int64) (domain.Order, error) {
	if e.cfg.Role != domain.RoleCashier && e.cfg.Role != domain.RoleAdmin {
		return domain.Order{}, ErrCommandNotAllowed
	}
	from, _, found := e.locate(id)
	if !found {
		return domain.Order{}, ErrOrderNotFound
	}
	if from.Terminal() {
		return domain.Order{}, fmt.Errorf("%w from %s", ErrNoForwardTransition, from)
	}
	return e.command(ctx, id, from, domain.StatusCancelled)
}

func (e *Engine) commandRole() bool {
	switch e.cfg.Role {
	case domain.RoleCashier, domain.RoleAdmin, domain.RoleDelivery:
		return true
	}
	return false
}

// command moves one order between columns through a server round trip.
func (e *Engine) command(ctx context.Context, id int64, from, to domain.Status) (domain.Order, error) {
	e.mu.Lock()
	idx := e.indexLocked(from, id)
	if idx < 0 {
		e.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: %d in %s", ErrOrderNotFound, id, from)
	}
	if _, dup := e.inflight[id]; dup {
		e.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: order %d", ErrTransitionInFlight, id)
	}
	e.inflight[id] = struct{}{}
	e.columns[from][idx].InFlight = true
	e.mu.Unlock()

	updated, err := e.svc.SetStatus(ctx, id, to)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
	if err != nil {
		// Leave the order where it was; the caller reports the failure.
		if i := e.indexLocked(from, id); i >= 0 {
			e.columns[from][i].InFlight = false
		}
		metrics.Transitions.WithLabelValues(string(to), "error").Inc()
		return domain.Order{}, err
	}

	e.removeLocked(from, id)
	updated.InFlight = false
	if e.isVisible(updated.Status) {
		e.columns[updated.Status] = append(e.columns[updated.Status], updated)
	}
	metrics.Transitions.WithLabelValues(string(to), "ok").Inc()
	e.log.Info("order transitioned", "order_id", id, "from", string(from), "to", string(updated.Status))
	return updated, nil
}

// SetAnnouncer wires the broker publisher used to tell a customer their order
// was given extra time. Optional; without it extensions stay on this board.
func (e *Engine) SetAnnouncer(p Publisher) { e.announce = p }

// ExtendTime pushes an order's estimated completion out by minutesExtra,
// counted from the current wall clock. The mutation is local, there is no
// server round trip, but the customer's private channel gets a best-effort
// TIEMPO_EXTENDIDO event so their view can follow.
func (e *Engine) ExtendTime(id int64, minutesExtra int) (domain.Order, error) {
	if minutesExtra <= 0 {
		return domain.Order{}, fmt.Errorf("invalid extension: %d minutes", minutesExtra)
	}

	e.mu.Lock()
	var patched *domain.Order
	for status := range e.columns {
		if i := e.indexLocked(status, id); i >= 0 {
			o := &e.columns[status][i]
			o.EstimatedReadyAt = e.now().Add(time.Duration(minutesExtra) * time.Minute)
			o.EstimatedMinutes += minutesExtra
			out := *o
			patched = &out
			break
		}
	}
	e.mu.Unlock()

	if patched == nil {
		return domain.Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}

	if e.announce != nil && patched.Customer != "" {
		ev := domain.PushEvent{
			Type:         domain.EventTimeExtended,
			OrderID:      patched.ID,
			Customer:     patched.Customer,
			ExtraMinutes: minutesExtra,
			Timestamp:    e.now().UTC().Format(time.RFC3339),
		}
		if !e.announce.Publish(context.Background(), domain.TopicCustomer(patched.Customer), ev) {
			e.log.Debug("extension not announced, broker offline", "order_id", id)
		}
	}
	return *patched, nil
}

// Select marks one order as the currently inspected one.
func (e *Engine) Select(id int64) error {
	if _, _, found := e.locate(id); !found {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	e.mu.Lock()
	e.selected, e.hasSel = id, true
	e.mu.Unlock()
	return nil
}

// ClearSelection drops the inspected order. Part of every close/cancel path.
func (e *Engine) ClearSelection() {
	e.mu.Lock()
	e.hasSel = false
	e.mu.Unlock()
}

// Selected returns the inspected order, if it is still on the board.
func (e *Engine) Selected() (domain.Order, bool) {
	e.mu.Lock()
	id, ok := e.selected, e.hasSel
	e.mu.Unlock()
	if !ok {
		return domain.Order{}, false
	}
	_, o, found := e.locate(id)
	return o, found
}

// Column returns a copy of one column's orders.
func (e *Engine) Column(status domain.Status) []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	col := e.columns[status]
	out := make([]domain.Order, len(col))
	copy(out, col)
	return out
}

// HandleEvent reacts to one push event. The engine never patches columns from
// event payloads: events of interest trigger a re-fetch (rate limited, with
// the poll loop as backstop) plus a notification intent.
func (e *Engine) HandleEvent(ev domain.PushEvent) {
	switch ev.Type {
	case domain.EventNewOrder, domain.EventStatusChanged, domain.EventOrderCancelled,
		domain.EventReadyForDelivery, domain.EventPaymentConfirmed:
		if intent, ok := notify.FromEvent(ev); ok {
			e.sink.Notify(intent)
		}
		e.requestRefresh()
	case domain.EventTimeExtended:
		if _, err := e.ExtendTime(ev.OrderID, ev.ExtraMinutes); err != nil {
			e.log.Debug("time extension for unknown order", "order_id", ev.OrderID, "err", err)
		}
	case domain.EventError:
		e.log.Warn("error event from broker", "order_id", ev.OrderID, "status", ev.Status)
	}
}

func (e *Engine) requestRefresh() {
	if !e.limiter.Allow() {
		// Burst of events; the next poll reconciles.
		e.log.Debug("coalescing event refresh")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Refresh(ctx); err != nil {
			e.log.Error("event refresh failed", "err", err)
		}
	}()
}

func (e *Engine) locate(id int64) (domain.Status, domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for status, col := range e.columns {
		for _, o := range col {
			if o.ID == id {
				return status, o, true
			}
		}
	}
	return "", domain.Order{}, false
}

func (e *Engine) indexLocked(status domain.Status, id int64) int {
	for i, o := range e.columns[status] {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) removeLocked(status domain.Status, id int64) {
	col := e.columns[status]
	for i, o := range col {
		if o.ID == id {
			e.columns[status] = append(col[:i], col[i+1:]...)
			return
		}
	}
}

func (e *Engine) isVisible(status domain.Status) bool {
	for _, s := range e.visible {
		if s == status {
			return true
		}
	}
	return false
}

// Package router gates the shared broker connection on session readiness and
// hands subscriptions out to role dashboards.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"comanda/internal/broker"
	"comanda/internal/domain"
)

// Phase is the router's connection supervision phase. Using an explicit state
// machine keeps re-entrant connects unrepresentable instead of guarded by
// scattered booleans.
type Phase int

const (
	// PhaseIdle: readiness not established, nothing connected.
	PhaseIdle Phase = iota
	// PhaseSettling: readiness holds, waiting out the settle delay before
	// connecting so a pending redirect cannot race the connection.
	PhaseSettling
	// PhaseConnecting: a single connect attempt is outstanding.
	PhaseConnecting
	// PhaseOnline: connected; teardown runs when readiness drops.
	PhaseOnline
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSettling:
		return "settling"
	case PhaseConnecting:
		return "connecting"
	case PhaseOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Readiness is the composite predicate that gates the connection.
type Readiness struct {
	Authenticated   bool
	SessionSynced   bool
	ProfileComplete bool
}

// Ready reports whether every gate holds.
func (r Readiness) Ready() bool {
	return r.Authenticated && r.SessionSynced && r.ProfileComplete
}

// Transport is the slice of the broker client the router drives.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() broker.State
	IsConnected() bool
	Subscribe(topic string, h broker.Handler) *broker.Subscription
}

// Router supervises the broker connection and delegates subscriptions.
// Role-specific topic sets stay with each consumer; the router only exposes
// Subscribe and IsConnected.
type Router struct {
	broker Transport
	log    *slog.Logger
	settle time.Duration

	mu        sync.Mutex
	phase     Phase
	readiness Readiness
	timer     *time.Timer
}

// New creates a router in the idle phase.
func New(b Transport, settle time.Duration, log *slog.Logger) *Router {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Router{
		broker: b,
		settle: settle,
		log:    log.With("component", "router"),
	}
}

// Phase returns the current supervision phase.
func (r *Router) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// IsConnected reports whether the underlying transport is live.
func (r *Router) IsConnected() bool { return r.broker.IsConnected() }

// SetReadiness feeds the readiness predicate. Transitions:
// ready while Idle starts the settle timer; readiness dropping in any other
// phase tears the connection down so a later flip can reconnect cleanly.
func (r *Router) SetReadiness(rd Readiness) {
	r.mu.Lock()
	r.readiness = rd

	switch {
	case rd.Ready() && r.phase == PhaseIdle:
		r.phase = PhaseSettling
		r.log.Info("session ready, settling before connect", "delay", r.settle.String())
		r.timer = time.AfterFunc(r.settle, r.connectAfterSettle)
		r.mu.Unlock()

	case !rd.Ready() && r.phase != PhaseIdle:
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		wasOnline := r.phase == PhaseOnline
		r.phase = PhaseIdle
		r.mu.Unlock()

		if wasOnline {
			r.log.Info("session no longer ready, disconnecting")
		}
		// Teardown runs regardless of how far the connect got.
		r.broker.Disconnect()

	default:
		// Ready while settling/connecting/online: already handled, no
		// duplicate connect attempt.
		r.mu.Unlock()
	}
}

func (r *Router) connectAfterSettle() {
	r.mu.Lock()
	if r.phase != PhaseSettling || !r.readiness.Ready() {
		r.mu.Unlock()
		return
	}
	r.phase = PhaseConnecting
	r.mu.Unlock()

	err := r.broker.Connect(context.Background())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseConnecting {
		// Readiness flipped mid-connect; SetReadiness already tore down.
		return
	}
	if err != nil && r.broker.State() == broker.StateDisconnected {
		// Credential failure: the broker gave up without scheduling a retry.
		// Back to Idle so the next readiness flip can try again.
		r.log.Warn("connect attempt failed", "err", err)
		r.phase = PhaseIdle
		return
	}
	// Connected, or dial failed and the broker's backoff loop owns retries.
	r.phase = PhaseOnline
}

// Subscribe delegates to the broker. Nil when the transport is not connected.
func (r *Router) Subscribe(topic string, h broker.Handler) *broker.Subscription {
	return r.broker.Subscribe(topic, h)
}

// SubscribeRole opens the standing topic set for a role and returns the
// handles; the caller must release every one of them on unmount.
func (r *Router) SubscribeRole(role domain.Role, h broker.Handler) []*broker.Subscription {
	topics := domain.TopicsFor(role)
	subs := make([]*broker.Subscription, 0, len(topics))
	for _, t := range topics {
		if s := r.Subscribe(t, h); s != nil {
			subs = append(subs, s)
		}
	}
	return subs
}

// Package broker maintains the client's single persistent connection to the
// push broker and hides reconnection churn from consumers.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"comanda/internal/domain"
	"comanda/internal/identity"
	"comanda/internal/metrics"
)

// State is the transport connection state. Owned exclusively by the Client;
// everything else reads it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrReconnectExhausted is handed to the OnDown callback once the retry
	// budget is spent. The rest of the client stays usable via manual refresh.
	ErrReconnectExhausted = errors.New("could not reconnect to broker")

	errNotConnected = errors.New("not connected")
)

// Config tunes the transport.
type Config struct {
	URL           string
	Exchange      string
	Heartbeat     time.Duration
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxReconnects int
}

func (c *Config) applyDefaults() {
	if c.Exchange == "" {
		c.Exchange = "pedidos_topic"
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 4 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
}

// Handler receives parsed push events for one subscription.
type Handler func(domain.PushEvent)

// connection and channel mirror the slice of the AMQP API the client touches,
// so tests can stand in for the broker.
type connection interface {
	Channel() (channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
	Close() error
}

type dialFunc func(url string, cfg amqp.Config) (connection, error)

type amqpConn struct{ *amqp.Connection }

func (c amqpConn) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func defaultDial(url string, cfg amqp.Config) (connection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

// Client owns at most one live broker connection. One instance exists per
// running client; consumers share it through the subscription router.
type Client struct {
	cfg    Config
	tokens identity.TokenSource
	log    *slog.Logger
	dial   dialFunc

	mu      sync.Mutex
	state   State
	conn    connection
	ch      channel
	attempt int
	retry   *time.Timer
	gen     int // connection generation; stale close-watchers bail out on mismatch
	subs    map[string]*Subscription
	onDown  func(error)
}

// New creates a disconnected client.
func New(cfg Config, tokens identity.TokenSource, log *slog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		log:    log.With("component", "broker"),
		dial:   defaultDial,
		subs:   make(map[string]*Subscription),
	}
}

// OnDown registers the callback invoked once the reconnect budget is
// exhausted. Must be set before Connect.
func (c *Client) OnDown(fn func(error)) {
	c.mu.Lock()
	c.onDown = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether publish/subscribe will be accepted right now.
func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// Connect opens the transport. It is a no-op when already Connected or
// Connecting. A fresh bearer credential is fetched for every attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	return c.open(ctx)
}

// Disconnect tears the transport down and cancels any pending reconnect.
// Safe to call from any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn, c.ch = nil, nil
	c.attempt = 0
	c.gen++
	already := c.state == StateDisconnected
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !already {
		c.log.Info("broker disconnected")
	}
}

// Publish sends payload on topic. It returns false when not connected:
// messages are not buffered while the transport is down, callers must check.
func (c *Client) Publish(ctx context.Context, topic string, payload any) bool {
	c.mu.Lock()
	ch := c.ch
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || ch == nil {
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("marshal publish payload", "topic", topic, "err", err)
		return false
	}

	err = ch.PublishWithContext(ctx, c.cfg.Exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		c.log.Warn("publish failed", "topic", topic, "err", err)
		return false
	}
	return true
}

// Subscribe registers handler for topic and returns a disposable handle, or
// nil when not connected. The handle's Unsubscribe must be called on every
// exit path of the owning consumer.
func (c *Client) Subscribe(topic string, h Handler) *Subscription {
	c.mu.Lock()
	if c.state != StateConnected || c.ch == nil {
		c.mu.Unlock()
		c.log.Warn("subscribe rejected, not connected", "topic", topic)
		return nil
	}
	sub := &Subscription{topic: topic, tag: uuid.NewString(), handler: h, client: c}
	c.subs[sub.tag] = sub
	c.mu.Unlock()

	if err := c.consume(sub); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.tag)
		c.mu.Unlock()
		c.log.Error("subscribe failed", "topic", topic, "err", err)
		return nil
	}
	return sub
}

func (c *Client) open(ctx context.Context) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		// Credential failure aborts the attempt; a later Connect may retry.
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.log.Error("credential fetch failed", "err", err)
		return fmt.Errorf("fetch credential: %w", err)
	}

	conn, err := c.dial(c.cfg.URL, amqp.Config{
		Heartbeat: c.cfg.Heartbeat,
		SASL:      []amqp.Authentication{&amqp.PlainAuth{Username: "bearer", Password: tok}},
		Properties: amqp.Table{
			"product": "comanda",
		},
	})
	if err != nil {
		c.log.Warn("broker dial failed", "err", err)
		c.scheduleReconnect()
		return err
	}

	ch, err := conn.Channel()
	if err == nil {
		err = ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil)
	}
	if err != nil {
		_ = conn.Close()
		c.log.Warn("broker handshake failed", "err", err)
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		// Torn down while the handshake was in flight.
		c.mu.Unlock()
		_ = conn.Close()
		return errNotConnected
	}
	c.conn, c.ch = conn, ch
	c.attempt = 0
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnected)
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	resub := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		resub = append(resub, s)
	}
	c.mu.Unlock()

	c.log.Info("broker connected", "exchange", c.cfg.Exchange)
	go c.watch(gen, closed)

	// Re-establish subscriptions that survived a reconnect.
	for _, s := range resub {
		if err := c.consume(s); err != nil {
			c.log.Error("resubscribe failed", "topic", s.topic, "err", err)
		}
	}
	return nil
}

// watch waits for the connection to die. Heartbeat loss surfaces here the same
// way as any other transport error.
func (c *Client) watch(gen int, closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		// Superseded connection or explicit teardown.
		c.mu.Unlock()
		return
	}
	c.conn, c.ch = nil, nil
	c.mu.Unlock()

	if ok && amqpErr != nil {
		c.log.Warn("transport error", "code", amqpErr.Code, "reason", amqpErr.Reason)
	} else {
		c.log.Warn("broker closed the connection")
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return
	}
	if c.attempt >= c.cfg.MaxReconnects {
		c.setStateLocked(StateDisconnected)
		onDown := c.onDown
		c.log.Error("reconnect attempts exhausted", "attempts", c.attempt)
		if onDown != nil {
			go onDown(ErrReconnectExhausted)
		}
		return
	}

	c.attempt++
	delay := Backoff(c.attempt, c.cfg.ReconnectBase, c.cfg.ReconnectMax)
	c.setStateLocked(StateReconnecting)
	metrics.Reconnects.Inc()
	c.log.Info("reconnect scheduled", "attempt", c.attempt, "delay", delay.String())

	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()
		_ = c.open(context.Background())
	})
}

func (c *Client) consume(sub *Subscription) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return errNotConnected
	}

	// Server-named exclusive queue per subscription; the broker drops it with
	// the connection, so nothing leaks across reconnects.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, sub.topic, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", sub.topic, err)
	}
	deliveries, err := ch.Consume(q.Name, sub.tag, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", sub.topic, err)
	}

	go c.pump(sub, deliveries)
	return nil
}

// pump dispatches deliveries for one subscription. Parse failures are dropped
// per message and never terminate the subscription.
func (c *Client) pump(sub *Subscription, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		ev, err := domain.ParseEvent(d.Body)
		if err != nil {
			metrics.EventsDropped.Inc()
			c.log.Warn("dropping malformed push payload", "topic", sub.topic, "err", err)
			continue
		}
		metrics.EventsReceived.WithLabelValues(string(ev.Type)).Inc()
		sub.handler(ev)
	}
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	metrics.ConnectionState.Set(float64(s))
}

// Backoff returns the retry delay for the given attempt (1-based):
// min(base * 2^attempt, max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	d := base << uint(attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Subscription is the disposable handle returned by Subscribe.
type Subscription struct {
	topic   string
	tag     string
	handler Handler
	client  *Client
	once    sync.Once
}

// Topic returns the topic this subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe releases the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		c := s.client
		c.mu.Lock()
		delete(c.subs, s.tag)
		ch := c.ch
		connected := c.state == StateConnected
		c.mu.Unlock()

		if connected && ch != nil {
			if err := ch.Cancel(s.tag, false); err != nil {
				c.log.Warn("cancel consumer", "topic", s.topic, "err", err)
			}
		}
	})
}

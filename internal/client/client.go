// Package client is a Go mirror of the browser-side real-time channel: it
// keeps one websocket to the server up, sends commands and fans received
// events out to local subscribers, dropping redelivered events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/askpulse/internal/dedup"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/pscheid92/askpulse/internal/platform/retry"
)

const (
	writeWait          = 10 * time.Second
	guardSweepInterval = time.Minute
)

// DefaultRetryPolicy reconnects forever, backing off from 500ms up to 30s.
var DefaultRetryPolicy = retry.Policy{
	InitialBackoff:   500 * time.Millisecond,
	MaxBackoff:       30 * time.Second,
	RateLimitBackoff: 10 * time.Second,
}

// Message is one event as received from the server.
type Message struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

type Handler func(Message)

type Options struct {
	Clock       clockwork.Clock
	Dialer      *websocket.Dialer
	Retry       retry.Policy
	DedupWindow time.Duration
	Header      http.Header
	// Topics are joined on the first connect and re-joined after every reconnect.
	Topics []int64
}

type Client struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	policy retry.Policy
	clock  clockwork.Clock
	guard  *dedup.Cache

	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	topics      map[int64]struct{}
	handlers    map[domain.EventType]map[uint64]Handler
	nextID      uint64
	onChange    []func(connected bool)
	activeUsers int
}

func New(url string, opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Retry.InitialBackoff == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Retry.Clock == nil {
		opts.Retry.Clock = opts.Clock
	}

	topics := make(map[int64]struct{}, len(opts.Topics))
	for _, id := range opts.Topics {
		topics[id] = struct{}{}
	}

	return &Client{
		url:      url,
		dialer:   opts.Dialer,
		header:   opts.Header,
		policy:   opts.Retry,
		clock:    opts.Clock,
		guard:    dedup.NewCache(opts.DedupWindow, opts.Clock),
		topics:   topics,
		handlers: make(map[domain.EventType]map[uint64]Handler),
	}
}

// Run keeps the channel up until ctx ends, reconnecting with backoff after every drop.
// It returns nil on cancellation and an error only when the server refuses the
// handshake permanently.
func (c *Client) Run(ctx context.Context) error {
	stopSweep := c.guard.StartEvictionTimer(guardSweepInterval)
	defer stopSweep()

	for {
		err := retry.DoVoid(ctx, c.policy, classifyDialError, func() error {
			return c.connect(ctx)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		c.readLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		slog.Info("Real-time connection lost, reconnecting", "url", c.url)
	}
}

// Connected reports whether the channel is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ActiveUsers is the last presence count received.
func (c *Client) ActiveUsers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeUsers
}

// Subscribe registers fn for events of type t and returns a function removing it.
// Handlers run on the read goroutine, in arrival order.
func (c *Client) Subscribe(t domain.EventType, fn Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	if c.handlers[t] == nil {
		c.handlers[t] = make(map[uint64]Handler)
	}
	c.handlers[t][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[t], id)
	}
}

// OnConnectionChange registers fn to be called with every up/down transition.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Close closes the current connection with a normal close frame. Run keeps
// reconnecting unless its context is cancelled too.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	_ = conn.Close()
}

func (c *Client) connect(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	topics := make([]int64, 0, len(c.topics))
	for id := range c.topics {
		topics = append(topics, id)
	}
	c.mu.Unlock()

	for _, id := range topics {
		if err := c.send(domain.CommandJoinTopic, domain.TopicCommand{QuestionID: id}); err != nil {
			slog.Warn("Failed to rejoin topic", "question_id", id, "error", err)
		}
	}

	slog.Info("Connected to real-time service", "url", c.url, "topics", len(topics))
	c.notifyChange(true)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				slog.Debug("Real-time read failed", "error", err)
			}
			break
		}
		c.handleMessage(data)
	}

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()
	c.notifyChange(false)
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Dropping malformed event", "error", err)
		return
	}

	if key, ok := guardKey(msg); ok && !c.guard.ShouldAccept(key) {
		return
	}

	switch msg.Type {
	case domain.EventPresenceCount:
		var p domain.PresenceCount
		if err := msg.Decode(&p); err == nil {
			c.mu.Lock()
			c.activeUsers = p.Count
			c.mu.Unlock()
		}
	case domain.EventError:
		var e domain.ErrorMessage
		_ = msg.Decode(&e)
		slog.Warn("Server rejected command", "message", e.Message)
	}

	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[msg.Type]))
	for _, h := range c.handlers[msg.Type] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// guardKey identifies events that may arrive more than once: a topic member
// gets new_answer both scoped and globally, and reconnects can replay.
func guardKey(msg Message) (string, bool) {
	switch msg.Type {
	case domain.EventNewQuestion:
		var q struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(msg.Data, &q); err != nil {
			return "", false
		}
		return fmt.Sprintf("question:%d", q.ID), true
	case domain.EventNewAnswer:
		var a struct {
			Answer struct {
				ID int64 `json:"id"`
			} `json:"answer"`
		}
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			return "", false
		}
		return fmt.Sprintf("answer:%d", a.Answer.ID), true
	case domain.EventNotification:
		return "notification:" + string(msg.Data), true
	default:
		return "", false
	}
}

func (c *Client) notifyChange(connected bool) {
	c.mu.Lock()
	fns := append([]func(bool){}, c.onChange...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// HandshakeError is returned when the server answers the upgrade with an HTTP status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// classifyDialError retries network failures and server-side refusals,
// backs off longer when rate limited and gives up on other client errors.
func classifyDialError(err error) retry.Action {
	var hs *HandshakeError
	if !errors.As(err, &hs) {
		return retry.Retry
	}
	switch {
	case hs.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case hs.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}

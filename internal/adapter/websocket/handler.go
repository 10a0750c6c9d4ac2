package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/askpulse/internal/adapter/metrics"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/pscheid92/askpulse/internal/platform/correlation"
)

const maxMessageSize = 64 * 1024

// Handler upgrades HTTP requests to websocket connections and translates
// inbound commands into event bus calls.
type Handler struct {
	bus      domain.EventBus
	limits   *Limits
	upgrader websocket.Upgrader
	metrics  *metrics.WebSocketMetrics
	clock    clockwork.Clock

	mu      sync.Mutex
	writers map[*connWriter]struct{}
	closed  bool
}

func NewHandler(bus domain.EventBus, limits *Limits, checkOrigin func(*http.Request) bool, m *metrics.WebSocketMetrics, clock clockwork.Clock) *Handler {
	return &Handler{
		bus:    bus,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		metrics: m,
		clock:   clock,
		writers: make(map[*connWriter]struct{}),
	}
}

// ServeHTTP serves a connection keyed on the request's remote address.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	h.Serve(w, r, ip)
}

// Serve runs one connection until it ends. ip is the client address used for connection limits.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, ip string) {
	if ok, reason := h.limits.Acquire(ip); !ok {
		h.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(r.Context(), "WebSocket connection rejected",
			"reason", string(reason),
			"ip", ip,
			"ip_connections", h.limits.CountFor(ip),
			"connections", h.limits.Current(),
		)
		status := http.StatusServiceUnavailable
		if reason == LimitReasonRate {
			status = http.StatusTooManyRequests
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer h.limits.Release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		slog.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	writer := newConnWriter(conn, h.clock, h.metrics)
	if !h.track(writer) {
		writer.stopGraceful("Server shutting down")
		return
	}
	defer h.untrack(writer)

	// Commands outlive the upgrade request but keep its correlation id as their parent.
	ctx := context.WithoutCancel(r.Context())
	if _, ok := correlation.ID(ctx); !ok {
		ctx = correlation.WithID(ctx, correlation.NewID())
	}
	connID, err := h.bus.Connect(correlation.Derive(ctx), writer)
	if err != nil {
		slog.Error("Failed to register connection", "error", err)
		writer.stopGraceful("Server unavailable")
		return
	}

	h.metrics.ActiveConnections.Inc()
	defer h.metrics.ActiveConnections.Dec()

	h.readLoop(ctx, connID, conn, writer)

	if err := h.bus.Disconnect(correlation.Derive(ctx), connID); err != nil {
		slog.Error("Failed to unregister connection", "conn_id", connID.String(), "error", err)
	}
	writer.stop()
}

func (h *Handler) readLoop(ctx context.Context, connID uuid.UUID, conn *websocket.Conn, writer *connWriter) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read error", "conn_id", connID.String(), "error", err)
			}
			return
		}
		writer.updateReadDeadline()
		h.dispatch(correlation.Derive(ctx), connID, writer, data)
	}
}

// dispatch decodes one inbound command and drives the bus. Malformed or invalid
// commands are answered with an error event to this connection only.
func (h *Handler) dispatch(ctx context.Context, connID uuid.UUID, writer *connWriter, data []byte) {
	var cmd domain.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.metrics.MessagesReceived.WithLabelValues("malformed").Inc()
		h.reject(ctx, writer, "malformed message")
		return
	}

	if err := h.execute(ctx, connID, cmd); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			h.metrics.MessagesReceived.WithLabelValues("malformed").Inc()
			h.reject(ctx, writer, fmt.Sprintf("malformed %s data", cmd.Type))
		case errors.Is(err, domain.ErrInvalidCommand), errors.Is(err, domain.ErrInvalidDirection):
			h.metrics.MessagesReceived.WithLabelValues("invalid").Inc()
			h.reject(ctx, writer, err.Error())
		default:
			h.metrics.MessagesReceived.WithLabelValues(string(cmd.Type)).Inc()
			slog.ErrorContext(ctx, "Command failed", "conn_id", connID.String(), "command", string(cmd.Type), "error", err)
			h.reject(ctx, writer, "command could not be processed")
		}
		return
	}
	h.metrics.MessagesReceived.WithLabelValues(string(cmd.Type)).Inc()
}

func (h *Handler) execute(ctx context.Context, connID uuid.UUID, cmd domain.Command) error {
	switch cmd.Type {
	case domain.CommandPublishQuestion:
		var draft domain.QuestionDraft
		if err := json.Unmarshal(cmd.Data, &draft); err != nil {
			return err
		}
		_, err := h.bus.PublishQuestion(ctx, draft)
		return err

	case domain.CommandPostAnswer:
		var data domain.PostAnswerCommand
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		_, _, err := h.bus.PostAnswer(ctx, data.QuestionID, data.Answer)
		return err

	case domain.CommandVoteQuestion:
		var data domain.VoteQuestionCommand
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		dir, err := domain.ParseDirection(string(data.VoteType))
		if err != nil {
			return err
		}
		_, _, err = h.bus.VoteQuestion(ctx, data.QuestionID, dir)
		return err

	case domain.CommandVoteAnswer:
		var data domain.VoteAnswerCommand
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		dir, err := domain.ParseDirection(string(data.VoteType))
		if err != nil {
			return err
		}
		_, _, err = h.bus.VoteAnswer(ctx, data.AnswerID, dir)
		return err

	case domain.CommandJoinTopic:
		var data domain.TopicCommand
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		return h.bus.JoinTopic(ctx, connID, data.QuestionID)

	case domain.CommandLeaveTopic:
		var data domain.TopicCommand
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return err
		}
		return h.bus.LeaveTopic(ctx, connID, data.QuestionID)

	default:
		return fmt.Errorf("%w: unknown command type %q", domain.ErrInvalidCommand, cmd.Type)
	}
}

func (h *Handler) reject(ctx context.Context, writer *connWriter, message string) {
	slog.DebugContext(ctx, "Rejecting command", "reason", message)
	writer.Deliver(domain.Event{Type: domain.EventError, Data: domain.ErrorMessage{Message: message}})
}

func (h *Handler) track(cw *connWriter) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.writers[cw] = struct{}{}
	return true
}

func (h *Handler) untrack(cw *connWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.writers, cw)
}

// Close sends a close frame to every open connection and refuses new ones.
// Read loops then end and unregister their connections from the bus.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	writers := make([]*connWriter, 0, len(h.writers))
	for cw := range h.writers {
		writers = append(writers, cw)
	}
	h.mu.Unlock()

	slog.Info("Closing websocket connections", "count", len(writers))
	for _, cw := range writers {
		cw.stopGraceful("Server shutting down")
	}
}

// ConnectionCount returns the number of sockets currently holding a connection slot.
func (h *Handler) ConnectionCount() int64 {
	return h.limits.Current()
}

package cable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lotline/bidsession"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

// ErrSubscriptionRejected is an exported constant or variable used by the session core.
var ErrSubscriptionRejected = errors.New("cable: subscription rejected")

// Client defines a public type used by bidsession APIs.
//
// Client instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *zap.Logger
}

// Option configures a Client during construction.
type Option func(*Client)

// WithHeader sets extra headers sent with the websocket handshake.
func WithHeader(header http.Header) Option {
	return func(c *Client) { c.header = header }
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

// WithLogger attaches a logger for connection-level diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient describes the newclient operation and its observable behavior.
//
// NewClient does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewClient(wsURL string, opts ...Option) *Client {
	c := &Client{
		url: wsURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// command is the client-to-server frame shape.
type command struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
}

// frame is the server-to-client frame shape. Message is kept raw; the
// subscriber decides what it means.
type frame struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Message    json.RawMessage `json:"message"`
	Reason     string          `json:"reason"`
}

// Subscribe dials a fresh connection, subscribes to the named channel with
// the given params, and delivers every broadcast for that subscription to fn
// on a dedicated goroutine. The returned subscription's Unsubscribe closes
// the connection and is idempotent.
//
// Subscribe may return an error when input validation, dependency calls, or security checks fail.
// Subscribe does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) Subscribe(ctx context.Context, channel string, params map[string]string, fn func(message []byte)) (bidsession.Subscription, error) {
	identifier, err := encodeIdentifier(channel, params)
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, fmt.Errorf("cable: dial: %w", err)
	}

	logger := c.logger.With(
		zap.String("channel", channel),
		zap.String("conn_id", uuid.NewString()))

	sub := &subscription{
		conn:       conn,
		identifier: identifier,
		fn:         fn,
		logger:     logger,
	}

	if err := sub.write(command{Command: "subscribe", Identifier: identifier}); err != nil {
		conn.Close()
		return nil, err
	}
	if err := sub.awaitConfirmation(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	go sub.readPump()
	logger.Debug("subscription confirmed")
	return sub, nil
}

// encodeIdentifier builds the Action Cable identifier: a JSON object with the
// channel name and params, serialized and carried as a string.
func encodeIdentifier(channel string, params map[string]string) (string, error) {
	ident := make(map[string]string, len(params)+1)
	for k, v := range params {
		ident[k] = v
	}
	ident["channel"] = channel
	raw, err := json.Marshal(ident)
	if err != nil {
		return "", fmt.Errorf("cable: encode identifier: %w", err)
	}
	return string(raw), nil
}

type subscription struct {
	conn       *websocket.Conn
	identifier string
	fn         func([]byte)
	logger     *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *subscription) write(cmd command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("cable: write %s: %w", cmd.Command, err)
	}
	return nil
}

// awaitConfirmation reads until the server confirms or rejects the
// subscription. Welcome and ping frames are expected and skipped.
func (s *subscription) awaitConfirmation(ctx context.Context) error {
	deadline := time.Now().Add(defaultHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("cable: await confirmation: %w", err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case "confirm_subscription":
			if f.Identifier == s.identifier {
				return nil
			}
		case "reject_subscription":
			if f.Reason != "" {
				return fmt.Errorf("%w: %s", ErrSubscriptionRejected, f.Reason)
			}
			return ErrSubscriptionRejected
		}
	}
}

// readPump delivers broadcasts until the connection dies. It exits quietly on
// Unsubscribe; any other read error is logged and ends delivery, the session
// core's poller remains the safety net.
func (s *subscription) readPump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read pump ended", zap.Error(err))
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case "ping", "welcome", "confirm_subscription":
			continue
		}
		if f.Identifier != "" && f.Identifier != s.identifier {
			continue
		}
		if len(f.Message) > 0 {
			s.fn(f.Message)
		}
	}
}

// Unsubscribe describes the unsubscribe operation and its observable behavior.
//
// Unsubscribe does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		// Best effort: tell the server, then drop the connection either way.
		_ = s.write(command{Command: "unsubscribe", Identifier: s.identifier})
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}

// Package plcclient is the symmetrical counterpart of internal/plcserver:
// a small SDK for talking the read/write JSON protocol of spec.md §4.4
// over a websocket connection, in the spirit of pkg/sdk/client.go's
// embeddable gateway client.
package plcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mujin/goplc/internal/plcvalue"
)

// Config holds the client's connection parameters.
type Config struct {
	// URL is the endpoint's websocket URL, e.g. "ws://127.0.0.1:7001/".
	URL string

	// DialTimeout bounds the initial connection attempt. Default 5s.
	DialTimeout time.Duration

	// RequestTimeout bounds a single read/write round trip when the
	// caller's context carries no deadline. Default 2s.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is a connection to one plcserver endpoint. Safe for concurrent
// use; requests are serialized internally to respect the endpoint's
// strict one-in-flight discipline.
type Client struct {
	cfg  Config
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient constructs a Client. It does not dial; the first call to
// ReadKeys or WriteKeyValues dials lazily.
func NewClient(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{cfg: cfg}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) ensureConnectedLocked() error {
	if c.conn != nil {
		return nil
	}
	dialer := &websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("plcclient: dial %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	return nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(c.cfg.RequestTimeout)
}

// roundTrip sends payload and waits for exactly one reply, per the
// endpoint's strict request/reply contract. On any I/O error the
// connection is discarded so the next call redials, mirroring the
// server's own socket-recreation behavior. Callers wrap the returned
// error with their own correlation ID for logs and error strings.
func (c *Client) roundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	deadline := c.deadline(ctx)
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.conn.Close()
		c.conn = nil
		return nil, fmt.Errorf("write: %w", err)
	}

	c.conn.SetReadDeadline(deadline)
	_, resp, err := c.conn.ReadMessage()
	if err != nil {
		c.conn.Close()
		c.conn = nil
		return nil, fmt.Errorf("read: %w", err)
	}
	return resp, nil
}

// ReadKeys issues a read request for keys and returns the subset present
// on the server side (spec.md §4.4: missing keys are simply absent from
// the result).
func (c *Client) ReadKeys(ctx context.Context, keys []string) (map[string]plcvalue.Value, error) {
	correlationID := uuid.NewString()
	payload, err := json.Marshal(struct {
		Command   string   `json:"command"`
		RequestID string   `json:"request_id"`
		Keys      []string `json:"keys"`
	}{Command: "read", RequestID: correlationID, Keys: keys})
	if err != nil {
		return nil, fmt.Errorf("plcclient: marshal read request: %w", err)
	}

	resp, err := c.roundTrip(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("plcclient[%s]: %w", correlationID, err)
	}

	var decoded struct {
		KeyValues map[string]plcvalue.Value `json:"keyvalues"`
		RequestID string                    `json:"request_id"`
	}
	if err := json.Unmarshal(resp, &decoded); err != nil {
		return nil, fmt.Errorf("plcclient[%s]: decode read response: %w", correlationID, err)
	}
	if decoded.RequestID != "" && decoded.RequestID != correlationID {
		c.cfg.Logger.Warn("plcclient: response request_id mismatch", "sent", correlationID, "got", decoded.RequestID)
	}
	return decoded.KeyValues, nil
}

// WriteKeyValues issues a write request. The endpoint's reply carries no
// outcome (only the echoed request_id) and is not inspected; a non-nil
// error here means the round trip itself failed, not that the write was
// rejected.
func (c *Client) WriteKeyValues(ctx context.Context, keyvalues map[string]plcvalue.Value) error {
	correlationID := uuid.NewString()
	payload, err := json.Marshal(struct {
		Command   string                    `json:"command"`
		RequestID string                    `json:"request_id"`
		KeyValues map[string]plcvalue.Value `json:"keyvalues"`
	}{Command: "write", RequestID: correlationID, KeyValues: keyvalues})
	if err != nil {
		return fmt.Errorf("plcclient: marshal write request: %w", err)
	}

	_, err = c.roundTrip(ctx, payload)
	if err != nil {
		return fmt.Errorf("plcclient[%s]: %w", correlationID, err)
	}
	return nil
}

// Package cdp implements the Chrome DevTools Protocol transport: a raw
// WebSocket connection to a browser's (or Node's) inspector endpoint,
// multiplexed by CDP's "flatten" sessionId scheme, plus typed
// command/event helpers built on cdproto's domain structs.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/nodescope/jsdbg/internal/logging"
)

// message is the wire envelope for both requests/responses and
// events, matching CDP's flatten-session JSON-RPC-like framing.
type message struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *protocolError  `json:"error,omitempty"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// EventHandler receives a decoded CDP event for one sessionId.
type EventHandler func(sessionID string, method string, params json.RawMessage)

// Conn is a single WebSocket connection to a runtime's inspector
// endpoint, carrying commands and events for the browser session and
// every session flattened onto it via Target.attachToTarget.
type Conn struct {
	log *logging.Logger
	ws  *websocket.Conn

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan message
	closed  bool

	handlersMu sync.RWMutex
	handlers   []EventHandler

	writeMu sync.Mutex
}

// Dial opens a WebSocket connection to the given CDP endpoint (a
// ws:// URL, typically obtained from /json/version or a
// --remote-debugging-port HTTP endpoint).
func Dial(ctx context.Context, wsURL string, log *logging.Logger) (*Conn, error) {
	dialer := websocket.Dialer{}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", wsURL, err)
	}

	c := &Conn{
		log:     log,
		ws:      ws,
		pending: make(map[int64]chan message),
	}
	go c.readLoop()
	return c, nil
}

// OnEvent registers a handler invoked for every event on every
// session. Handlers should filter by sessionID/method themselves;
// dispatch fan-out to per-domain subscribers happens above this layer
// (see Session.Subscribe in session.go).
func (c *Conn) OnEvent(h EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.log.Warnf("cdp: read loop ended: %v", err)
			c.failAllPending(err)
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("cdp: malformed message: %v", err)
			continue
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		if msg.Method != "" {
			c.handlersMu.RLock()
			handlers := append([]EventHandler(nil), c.handlers...)
			c.handlersMu.RUnlock()
			for _, h := range handlers {
				h(msg.SessionID, msg.Method, msg.Params)
			}
		}
	}
}

func (c *Conn) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- message{ID: id, Error: &protocolError{Message: err.Error()}}
		delete(c.pending, id)
	}
}

// Call issues a CDP command on sessionID (empty for the browser-level
// session) and decodes the result into out (nil if the command has no
// return value).
func (c *Conn) Call(ctx context.Context, sessionID, method string, params interface{}, out interface{}) error {
	id := atomic.AddInt64(&c.nextID, 1)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("cdp: marshal params for %s: %w", method, err)
		}
		paramsJSON = data
	}

	req := message{ID: id, SessionID: sessionID, Method: method, Params: paramsJSON}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("cdp: marshal request for %s: %w", method, err)
	}

	ch := make(chan message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("cdp: connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("cdp: write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("cdp: unmarshal result of %s: %w", method, err)
			}
		}
		return nil
	}
}

// Close closes the underlying WebSocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

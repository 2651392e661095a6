package cdp

import (
	"context"
	"encoding/json"
	"sync"
)

// Session is one flattened CDP session: either the top-level browser
// session (SessionID == "") or a session attached to a specific
// target via Target.attachToTarget's flatten mode.
type Session struct {
	conn      *Conn
	SessionID string
	TargetID  string

	subsMu sync.RWMutex
	subs   map[string][]func(json.RawMessage)
}

// NewSession wraps conn for a given sessionID, routing events whose
// sessionId matches to Subscribe callbacks.
func NewSession(conn *Conn, sessionID, targetID string) *Session {
	s := &Session{
		conn:      conn,
		SessionID: sessionID,
		TargetID:  targetID,
		subs:      make(map[string][]func(json.RawMessage)),
	}
	conn.OnEvent(func(sid, method string, params json.RawMessage) {
		if sid != sessionID {
			return
		}
		s.subsMu.RLock()
		handlers := append([]func(json.RawMessage)(nil), s.subs[method]...)
		s.subsMu.RUnlock()
		for _, h := range handlers {
			h(params)
		}
	})
	return s
}

// Call issues a command scoped to this session.
func (s *Session) Call(ctx context.Context, method string, params, out interface{}) error {
	return s.conn.Call(ctx, s.SessionID, method, params, out)
}

// Subscribe registers a callback for every event named method on this
// session (e.g. "Debugger.paused").
func (s *Session) Subscribe(method string, handler func(json.RawMessage)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[method] = append(s.subs[method], handler)
}

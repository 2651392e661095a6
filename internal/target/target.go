// Package target implements the TargetManager: discovery and recursive
// auto-attach over CDP's Target domain, and the attach/detach tree of
// Targets it produces.
package target

import (
	"context"
	"encoding/json"
	"sync"

	cdptarget "github.com/chromedp/cdproto/target"

	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/logging"
)

// threadTypes is the set of target types that get a Thread, per
// spec.md §4.5.
var threadTypes = map[string]bool{
	"page":   true,
	"iframe": true,
	"worker": true,
	"node":   true,
}

// Thread is the subset of a Thread's lifecycle TargetManager drives:
// disposal on detach. The concrete Thread implementation lives in
// internal/thread; Manager depends only on this seam to avoid a
// target<->thread import cycle (thread attaches breakpoints/sources
// machinery that in turn doesn't need to know about the target tree).
type Thread interface {
	Dispose()
}

// ThreadFactory constructs a Thread for a newly attached target whose
// type is one of {page, iframe, worker, node}.
type ThreadFactory func(ctx context.Context, session *cdp.Session, info cdptarget.Info) Thread

// Target is one node in the attach tree.
type Target struct {
	ID        string
	Type      string
	Title     string
	URL       string
	SessionID string
	Session   *cdp.Session
	Thread    Thread

	parent   *Target
	children map[string]*Target
}

// Children returns a snapshot of t's currently attached children.
func (t *Target) Children() []*Target {
	out := make([]*Target, 0, len(t.children))
	for _, c := range t.children {
		out = append(out, c)
	}
	return out
}

// Manager is the TargetManager: one CDP connection's browser session,
// auto-attach wiring, and the resulting target tree.
type Manager struct {
	conn          *cdp.Conn
	root          *cdp.Session
	log           *logging.Logger
	threadFactory ThreadFactory

	onAttached func(*Target)
	onDetached func(*Target)

	mu           sync.Mutex
	targets      map[string]*Target // by TargetID
	sessionIndex map[string]*Target // by SessionID, for resolving an event's parent
	mainTargetID string
	terminated   bool
	onMainGone   func()
}

// Options configures a Manager.
type Options struct {
	ThreadFactory  ThreadFactory
	OnTargetAttach func(*Target)
	OnTargetDetach func(*Target)
	OnMainGone     func()
}

// NewManager wires a Manager onto conn's root (browser-level) session.
func NewManager(conn *cdp.Conn, log *logging.Logger, opts Options) *Manager {
	m := &Manager{
		conn:          conn,
		root:          cdp.NewSession(conn, "", ""),
		log:           log,
		threadFactory: opts.ThreadFactory,
		onAttached:    opts.OnTargetAttach,
		onDetached:    opts.OnTargetDetach,
		onMainGone:    opts.OnMainGone,
		targets:       make(map[string]*Target),
		sessionIndex:  make(map[string]*Target),
	}
	conn.OnEvent(m.handleEvent)
	return m
}

// Start issues Target.setDiscoverTargets and the recursive
// Target.setAutoAttach per spec.md §4.5.
func (m *Manager) Start(ctx context.Context) error {
	if err := cdp.SetAutoAttach(ctx, m.root); err != nil {
		return err
	}
	return nil
}

func (m *Manager) handleEvent(sessionID, method string, params json.RawMessage) {
	switch method {
	case "Target.attachedToTarget":
		var evt cdptarget.EventAttachedToTarget
		if err := json.Unmarshal(params, &evt); err != nil {
			m.log.Warnf("target: malformed attachedToTarget: %v", err)
			return
		}
		m.onAttach(sessionID, &evt)
	case "Target.detachedFromTarget":
		var evt cdptarget.EventDetachedFromTarget
		if err := json.Unmarshal(params, &evt); err != nil {
			m.log.Warnf("target: malformed detachedFromTarget: %v", err)
			return
		}
		m.onDetach(string(evt.TargetID))
	}
}

func (m *Manager) onAttach(parentSessionID string, evt *cdptarget.EventAttachedToTarget) {
	if evt.TargetInfo == nil {
		return
	}
	info := *evt.TargetInfo
	session := cdp.NewSession(m.conn, string(evt.SessionID), string(info.TargetID))

	t := &Target{
		ID:        string(info.TargetID),
		Type:      info.Type,
		Title:     info.Title,
		URL:       info.URL,
		SessionID: string(evt.SessionID),
		Session:   session,
		children:  make(map[string]*Target),
	}

	m.mu.Lock()
	if m.mainTargetID == "" && info.Type == "page" {
		m.mainTargetID = t.ID
	}
	m.targets[t.ID] = t
	m.sessionIndex[t.SessionID] = t
	if parent, ok := m.sessionIndex[parentSessionID]; ok {
		t.parent = parent
		parent.children[t.ID] = t
	}
	m.mu.Unlock()

	if threadTypes[info.Type] && m.threadFactory != nil {
		t.Thread = m.threadFactory(context.Background(), session, info)
	}

	// Propagate auto-attach recursively onto the new session, per
	// spec.md §4.5.
	_ = cdp.SetAutoAttach(context.Background(), session)

	if m.onAttached != nil {
		m.onAttached(t)
	}
}

// onDetach implements the depth-first detach algorithm: children are
// detached and disposed before the target itself.
func (m *Manager) onDetach(targetID string) {
	m.mu.Lock()
	t, ok := m.targets[targetID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.detachRecursive(t)
}

func (m *Manager) detachRecursive(t *Target) {
	for _, child := range t.Children() {
		m.detachRecursive(child)
	}

	if t.Thread != nil {
		t.Thread.Dispose()
	}

	m.mu.Lock()
	delete(m.targets, t.ID)
	delete(m.sessionIndex, t.SessionID)
	wasMain := t.ID == m.mainTargetID
	alreadyTerminated := m.terminated
	if wasMain {
		m.terminated = true
	}
	m.mu.Unlock()

	if t.parent != nil {
		delete(t.parent.children, t.ID)
	}

	if m.onDetached != nil {
		m.onDetached(t)
	}

	if wasMain && !alreadyTerminated && m.onMainGone != nil {
		m.onMainGone()
	}
}

// ByID looks up a Target by id.
func (m *Manager) ByID(id string) (*Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	return t, ok
}

// MainTargetID returns the id of the first-attached page target, the
// "main target" whose termination ends the session.
func (m *Manager) MainTargetID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mainTargetID
}

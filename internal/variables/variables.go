// Package variables implements the VariableStore: the
// variablesReference allocator and Runtime.getProperties/callFunctionOn
// plumbing backing DAP's variables/setVariable requests.
package variables

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/runtime"

	"github.com/nodescope/jsdbg/internal/cdp"
)

// arrayIntervalThreshold is the element count above which an array's
// indexed properties are split into interval sub-containers rather than
// returned flat.
const arrayIntervalThreshold = 100

// arrayIntervalSize is the width of each synthesized interval.
const arrayIntervalSize = 100

type handleKind int

const (
	kindObject handleKind = iota
	kindInterval
)

// handle is what a variablesReference resolves to.
type handle struct {
	kind         handleKind
	remoteObject *runtime.RemoteObject
	contextID    runtime.ExecutionContextID

	// interval handles narrow a prior object handle's indexed
	// properties to [start, end).
	parent     *handle
	start, end int
}

// Variable is one DAP variable row.
type Variable struct {
	Name               string
	Value              string
	Type               string
	VariablesReference int
	IndexedVariables   int
	NamedVariables     int
}

// Store maps variablesReference to a handle, scoped to one pause. It is
// discarded (and its references invalidated) whenever the owning Thread
// resumes.
type Store struct {
	mu      sync.Mutex
	handles map[int]*handle
	next    int
}

// NewStore returns an empty, session-scoped Store.
func NewStore() *Store {
	return &Store{handles: make(map[int]*handle)}
}

// Reset discards every allocated reference, called on resume.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = make(map[int]*handle)
	s.next = 0
}

func (s *Store) alloc(h *handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.handles[s.next] = h
	return s.next
}

func (s *Store) lookup(ref int) (*handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[ref]
	return h, ok
}

// Owns reports whether ref was allocated by this Store, the lookup
// a session uses to find which paused thread a variablesReference
// belongs to.
func (s *Store) Owns(ref int) bool {
	_, ok := s.lookup(ref)
	return ok
}

// CreateForObject allocates a variablesReference for a remote object,
// scoped to contextID for subsequent evaluate/callFunctionOn calls.
func (s *Store) CreateForObject(obj *runtime.RemoteObject, contextID runtime.ExecutionContextID) int {
	if obj == nil || obj.ObjectID == "" {
		return 0
	}
	return s.alloc(&handle{kind: kindObject, remoteObject: obj, contextID: contextID})
}

func describeType(v *runtime.RemoteObject) string {
	if v.Subtype != "" {
		return string(v.Subtype)
	}
	return string(v.Type)
}

func previewValue(v *runtime.RemoteObject) string {
	if v.Value != nil {
		return string(v.Value)
	}
	if v.UnserializableValue != "" {
		return string(v.UnserializableValue)
	}
	if v.Description != "" {
		return v.Description
	}
	return string(v.Type)
}

// GetVariables resolves ref's children: for object handles, fetches
// Runtime.getProperties and groups results into named/indexed/internal
// buckets; for interval handles, slices the parent's indexed properties.
func (s *Store) GetVariables(ctx context.Context, session *cdp.Session, ref int) ([]Variable, error) {
	h, ok := s.lookup(ref)
	if !ok {
		return nil, fmt.Errorf("variables: unknown reference %d", ref)
	}

	if h.kind == kindInterval {
		return s.intervalVariables(ctx, session, h)
	}

	return s.objectVariables(ctx, session, h)
}

func (s *Store) objectVariables(ctx context.Context, session *cdp.Session, h *handle) ([]Variable, error) {
	props, err := s.getProperties(ctx, session, h.remoteObject.ObjectID)
	if err != nil {
		return nil, err
	}

	var named, indexed, internal []Variable
	for _, p := range props {
		if p.Value == nil && p.Get == nil {
			continue
		}
		v := s.variableFromProperty(p, h.contextID)
		switch {
		case p.Symbol != nil || (len(p.Name) > 0 && p.Name[0] == '['):
			internal = append(internal, v)
		case isArrayIndex(p.Name):
			indexed = append(indexed, v)
		default:
			named = append(named, v)
		}
	}

	if len(indexed) > arrayIntervalThreshold {
		return s.intervalize(h, named, indexed), nil
	}

	return append(append(named, indexed...), internal...), nil
}

func (s *Store) variableFromProperty(p *runtime.PropertyDescriptor, contextID runtime.ExecutionContextID) Variable {
	obj := p.Value
	if obj == nil {
		// Accessor property with no cached value: represent as a
		// getter reference, not evaluated eagerly (matches DAP's lazy
		// variables model).
		return Variable{Name: p.Name, Value: "(...)" , Type: "getter"}
	}
	v := Variable{
		Name:  p.Name,
		Value: previewValue(obj),
		Type:  describeType(obj),
	}
	if obj.ObjectID != "" {
		v.VariablesReference = s.CreateForObject(obj, contextID)
	}
	return v
}

func isArrayIndex(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// intervalize replaces a flat indexed list with synthetic [n..n+100)
// interval sub-containers, the array-over-threshold behavior spec.md
// §4.9 calls for.
func (s *Store) intervalize(h *handle, named, indexed []Variable) []Variable {
	out := append([]Variable(nil), named...)
	for start := 0; start < len(indexed); start += arrayIntervalSize {
		end := start + arrayIntervalSize
		if end > len(indexed) {
			end = len(indexed)
		}
		ref := s.alloc(&handle{kind: kindInterval, parent: h, start: start, end: end})
		out = append(out, Variable{
			Name:               fmt.Sprintf("[%d...%d]", start, end-1),
			Value:              "",
			Type:               "interval",
			VariablesReference: ref,
			IndexedVariables:   end - start,
		})
	}
	return out
}

func (s *Store) intervalVariables(ctx context.Context, session *cdp.Session, h *handle) ([]Variable, error) {
	props, err := s.getProperties(ctx, session, h.parent.remoteObject.ObjectID)
	if err != nil {
		return nil, err
	}
	var indexed []Variable
	for _, p := range props {
		if p.Value == nil || !isArrayIndex(p.Name) {
			continue
		}
		indexed = append(indexed, s.variableFromProperty(p, h.parent.contextID))
	}
	if h.start >= len(indexed) {
		return nil, nil
	}
	end := h.end
	if end > len(indexed) {
		end = len(indexed)
	}
	return indexed[h.start:end], nil
}

func (s *Store) getProperties(ctx context.Context, session *cdp.Session, objectID runtime.RemoteObjectID) ([]*runtime.PropertyDescriptor, error) {
	params := &runtime.GetPropertiesParams{
		ObjectID:               objectID,
		OwnProperties:          true,
		AccessorPropertiesOnly: false,
		GeneratePreview:        true,
	}
	var result struct {
		Result []*runtime.PropertyDescriptor `json:"result"`
	}
	if err := session.Call(ctx, "Runtime.getProperties", params, &result); err != nil {
		return nil, fmt.Errorf("variables: getProperties: %w", err)
	}
	return result.Result, nil
}

// SetVariable evaluates expression and assigns the resulting remote
// object onto ref's object via a setter function, per spec.md §4.9's
// setVariable contract.
func (s *Store) SetVariable(ctx context.Context, session *cdp.Session, ref int, name, expression string) (Variable, error) {
	h, ok := s.lookup(ref)
	if !ok || h.kind != kindObject {
		return Variable{}, fmt.Errorf("variables: unknown object reference %d", ref)
	}

	evalParams := &runtime.EvaluateParams{
		Expression:        expression,
		ContextID:         h.contextID,
		ReturnByValue:     false,
		ThrowOnSideEffect: false,
	}
	var evalResult struct {
		Result           *runtime.RemoteObject     `json:"result"`
		ExceptionDetails *runtime.ExceptionDetails `json:"exceptionDetails"`
	}
	if err := session.Call(ctx, "Runtime.evaluate", evalParams, &evalResult); err != nil {
		return Variable{}, fmt.Errorf("variables: evaluate: %w", err)
	}
	if evalResult.ExceptionDetails != nil {
		return Variable{}, fmt.Errorf("%s", exceptionText(evalResult.ExceptionDetails))
	}

	callParams := &runtime.CallFunctionOnParams{
		FunctionDeclaration: "function(v) { this[" + quoteJS(name) + "] = v; return this[" + quoteJS(name) + "]; }",
		ObjectID:            h.remoteObject.ObjectID,
		Arguments:           []*runtime.CallArgument{{ObjectID: evalResult.Result.ObjectID, Value: evalResult.Result.Value}},
		GeneratePreview:     true,
	}
	var callResult struct {
		Result           *runtime.RemoteObject     `json:"result"`
		ExceptionDetails *runtime.ExceptionDetails `json:"exceptionDetails"`
	}
	if err := session.Call(ctx, "Runtime.callFunctionOn", callParams, &callResult); err != nil {
		return Variable{}, fmt.Errorf("variables: callFunctionOn: %w", err)
	}
	if callResult.ExceptionDetails != nil {
		return Variable{}, fmt.Errorf("%s", exceptionText(callResult.ExceptionDetails))
	}

	v := Variable{Name: name, Value: previewValue(callResult.Result), Type: describeType(callResult.Result)}
	if callResult.Result.ObjectID != "" {
		v.VariablesReference = s.CreateForObject(callResult.Result, h.contextID)
	}
	return v, nil
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d.Exception != nil {
		return previewValue(d.Exception)
	}
	return d.Text
}

func quoteJS(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	out = append(out, '"')
	return string(out)
}

// Package dapio implements the server side of the Debug Adapter
// Protocol: reading Requests from an editor/client and writing
// Responses and Events back, over stdio.
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dapio

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
)

// Transport handles communication with a DAP client (the editor),
// reading Requests and writing Responses/Events.
type Transport struct {
	reader *bufio.Reader
	writer *bufio.Writer

	writeMu sync.Mutex
	readMu  sync.Mutex

	seq int64
}

// NewStdioTransport builds a Transport over the adapter process's own
// stdin/stdout, the standard way a DAP server is launched by an editor.
func NewStdioTransport(in io.Reader, out io.Writer) *Transport {
	return &Transport{
		reader: bufio.NewReader(in),
		writer: bufio.NewWriter(out),
	}
}

// NextSeq returns the next outgoing message sequence number.
func (t *Transport) NextSeq() int {
	return int(atomic.AddInt64(&t.seq, 1))
}

// Read blocks for the next incoming message. go-dap decodes each
// request into its own concrete type (*dap.LaunchRequest,
// *dap.EvaluateRequest, ...) keyed by the wire "command" field, so
// callers type-switch on the result rather than asserting a single
// generic Request type.
func (t *Transport) Read() (dap.Message, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	msg, err := dap.ReadProtocolMessage(t.reader)
	if err != nil {
		return nil, fmt.Errorf("dapio: read message: %w", err)
	}
	return msg, nil
}

// Send writes any DAP message (Response or Event) to the client.
func (t *Transport) Send(msg dap.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("dapio: write message: %w", err)
	}
	return t.writer.Flush()
}

// Close releases any resources the Transport holds. Stdio streams are
// owned by the process, not the Transport, so this is currently a
// no-op kept for symmetry with Close-ing transports over other media.
func (t *Transport) Close() error {
	return nil
}

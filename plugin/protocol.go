package plugin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// rpcMessage is the envelope every message on the host<->plugin stdio
// channel shares: a request/response carries ID, a notification omits it
// (spec §6 host hook/subscription contracts; §9 JSON-RPC-over-stdio).
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// isNotification reports whether msg is a host-initiated notification
// (no response expected) rather than a request.
func (m rpcMessage) isNotification() bool {
	return len(m.ID) == 0
}

// stdioTransport is the JSON-RPC-over-stdio wire layer (spec §6). Values
// arrive concatenated on stdin with no required delimiter between them;
// json.Decoder's streaming behavior handles that directly. Outgoing
// messages are terminated with a blank line for compatibility with hosts
// that still split on it.
type stdioTransport struct {
	dec *json.Decoder

	mu  sync.Mutex
	out io.Writer
}

func newStdioTransport(in io.Reader, out io.Writer) *stdioTransport {
	return &stdioTransport{dec: json.NewDecoder(bufio.NewReader(in)), out: out}
}

func (t *stdioTransport) readMessage() (rpcMessage, error) {
	var msg rpcMessage
	if err := t.dec.Decode(&msg); err != nil {
		return rpcMessage{}, err
	}
	return msg, nil
}

func (t *stdioTransport) writeResult(id json.RawMessage, result interface{}) error {
	return t.write(rpcMessage{JSONRPC: "2.0", ID: id, Result: result})
}

func (t *stdioTransport) writeError(id json.RawMessage, code int, message string) error {
	return t.write(rpcMessage{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (t *stdioTransport) writeNotification(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s notification params: %w", method, err)
	}
	return t.write(rpcMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

func (t *stdioTransport) write(msg rpcMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal rpc message: %w", err)
	}
	if _, err := t.out.Write(b); err != nil {
		return err
	}
	_, err = t.out.Write([]byte("\n\n"))
	return err
}

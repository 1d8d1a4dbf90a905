package hostrpc

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
)

// fakeHandler answers one JSON-RPC method call. A nil *rpcError means
// success; result is marshaled into the response's "result" field.
type fakeHandler func(method string, params json.RawMessage) (result interface{}, rpcErr *rpcError)

// newFakeHost stands up a real unix-socket JSON-RPC server (the same
// transport lightningd itself speaks) backing a Client, the way the
// teacher's channeldb tests stand up a throwaway real bbolt-backed DB
// rather than mocking the storage layer.
func newFakeHost(t *testing.T, handler fakeHandler) (*Client, func()) {
	t.Helper()

	sockPath := filepath.Join(t.TempDir(), "lightning-rpc")
	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen on fake host socket: %v", err)
	}

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		dec := json.NewDecoder(conn)
		enc := json.NewEncoder(conn)
		for {
			var req rpcRequest
			if err := dec.Decode(&req); err != nil {
				return
			}
			paramsRaw, _ := json.Marshal(req.Params)
			result, rpcErr := handler(req.Method, paramsRaw)

			resp := rpcResponse{ID: req.ID, Error: rpcErr}
			if rpcErr == nil {
				b, _ := json.Marshal(result)
				resp.Result = b
			}
			if err := enc.Encode(resp); err != nil {
				return
			}
		}
	}()

	client, err := NewClient(sockPath)
	if err != nil {
		lis.Close()
		t.Fatalf("NewClient: %v", err)
	}
	return client, func() {
		client.Close()
		lis.Close()
	}
}

package engine

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/elementsproject/holdinvoice/hostrpc"
)

// fakeRPCError/fakeRPCRequest/fakeRPCResponse mirror the JSON-RPC 2.0
// envelope hostrpc.Client speaks, reimplemented here (rather than
// exporting hostrpc's own test helper) since engine's tests only need a
// DSB/CIP backed by a real socket, not access to hostrpc internals.
type fakeRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type fakeRPCRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type fakeRPCResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *fakeRPCError   `json:"error,omitempty"`
}

const fakeDatastoreErrorCode = 1200

// fakeDatastoreEntry mirrors one listdatastore entry.
type fakeDatastoreEntry struct {
	Key        []string `json:"key"`
	Hex        *string  `json:"hex"`
	Generation uint64   `json:"generation"`
}

// fakeHostRPC is an in-memory stand-in for lightningd's datastore RPC
// family, enough to back a real hostrpc.DSB for the Hold Loop/Hook
// Handler tests, the way invoiceregistry_test.go stands up a real
// bbolt-backed channeldb.DB rather than mocking persistence.
type fakeHostRPC struct {
	mu      sync.Mutex
	entries map[string]fakeDatastoreEntry
}

func newFakeHostRPC() *fakeHostRPC {
	return &fakeHostRPC{entries: make(map[string]fakeDatastoreEntry)}
}

func fakeJoinKey(key []string) string {
	s := ""
	for i, k := range key {
		if i > 0 {
			s += "/"
		}
		s += k
	}
	return s
}

func (f *fakeHostRPC) handle(method string, params json.RawMessage) (interface{}, *fakeRPCError) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case "datastore":
		var p struct {
			Key        []string `json:"key"`
			Hex        *string  `json:"hex"`
			Mode       string   `json:"mode"`
			Generation *uint64  `json:"generation"`
		}
		_ = json.Unmarshal(params, &p)
		k := fakeJoinKey(p.Key)
		existing, exists := f.entries[k]
		switch p.Mode {
		case "must-create":
			if exists {
				return nil, &fakeRPCError{Code: fakeDatastoreErrorCode, Message: "already exists"}
			}
			f.entries[k] = fakeDatastoreEntry{Key: p.Key, Hex: p.Hex, Generation: 0}
		case "must-replace":
			if !exists {
				return nil, &fakeRPCError{Code: fakeDatastoreErrorCode, Message: "missing"}
			}
			if p.Generation != nil && *p.Generation != existing.Generation {
				return nil, &fakeRPCError{Code: fakeDatastoreErrorCode, Message: "generation mismatch"}
			}
			f.entries[k] = fakeDatastoreEntry{Key: p.Key, Hex: p.Hex, Generation: existing.Generation + 1}
		}
		return struct{}{}, nil

	case "listdatastore":
		var p struct {
			Key []string `json:"key"`
		}
		_ = json.Unmarshal(params, &p)
		prefix := fakeJoinKey(p.Key)
		var out []fakeDatastoreEntry
		for k, e := range f.entries {
			if k == prefix || (len(k) > len(prefix) && k[:len(prefix)+1] == prefix+"/") {
				out = append(out, e)
			}
		}
		return struct {
			Datastore []fakeDatastoreEntry `json:"datastore"`
		}{Datastore: out}, nil

	case "deldatastore":
		var p struct {
			Key []string `json:"key"`
		}
		_ = json.Unmarshal(params, &p)
		delete(f.entries, fakeJoinKey(p.Key))
		return struct{}{}, nil

	case "getinfo":
		return struct {
			BlockHeight uint32 `json:"blockheight"`
		}{}, nil
	}
	return nil, &fakeRPCError{Code: 500, Message: "unhandled method " + method}
}

// seedRecord directly inserts a record, bypassing the RPC layer, so tests
// can set up fixtures without going through Create's must-create check.
func (f *fakeHostRPC) seedRecord(pluginName, paymentHash string, rec hostrpc.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := json.Marshal(rec)
	enc := hex.EncodeToString(b)
	k := fakeJoinKey([]string{pluginName, paymentHash})
	f.entries[k] = fakeDatastoreEntry{Key: []string{pluginName, paymentHash}, Hex: &enc, Generation: 0}
}

// newTestDSB stands up a real unix-socket-backed hostrpc.DSB fronting a
// fakeHostRPC, for tests exercising HookHandler/HoldLoop against it.
func newTestDSB(t *testing.T) (*hostrpc.DSB, *fakeHostRPC, func()) {
	t.Helper()

	store := newFakeHostRPC()
	sockPath := filepath.Join(t.TempDir(), "lightning-rpc")
	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
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
			var req fakeRPCRequest
			if err := dec.Decode(&req); err != nil {
				return
			}
			result, rpcErr := store.handle(req.Method, req.Params)
			resp := fakeRPCResponse{ID: req.ID, Error: rpcErr}
			if rpcErr == nil {
				b, _ := json.Marshal(result)
				resp.Result = b
			}
			if err := enc.Encode(resp); err != nil {
				return
			}
		}
	}()

	client, err := hostrpc.NewClient(sockPath)
	if err != nil {
		lis.Close()
		t.Fatalf("NewClient: %v", err)
	}

	dsb := hostrpc.NewDSB(client, "holdinvoice")
	return dsb, store, func() {
		client.Close()
		lis.Close()
	}
}

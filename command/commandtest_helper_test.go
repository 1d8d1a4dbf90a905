package command

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/elementsproject/holdinvoice/config"
	"github.com/elementsproject/holdinvoice/engine"
	"github.com/elementsproject/holdinvoice/hostrpc"
)

// fakeRPCError/fakeRPCRequest/fakeRPCResponse mirror the JSON-RPC 2.0
// envelope hostrpc.Client speaks, reimplemented here (as in the engine and
// hostrpc packages' own test helpers) since unexported test types cannot
// cross package boundaries.
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

type fakeDatastoreEntry struct {
	Key        []string `json:"key"`
	Hex        *string  `json:"hex"`
	Generation uint64   `json:"generation"`
}

// fakeHost backs both a DSB and a CIP over one real unix socket, standing
// in for lightningd the way the teacher's invoiceregistry_test.go stands up
// a real bbolt-backed channeldb.DB rather than mocking persistence.
type fakeHost struct {
	mu      sync.Mutex
	entries map[string]fakeDatastoreEntry

	// invoiceResult, if set, is returned by the `invoice` RPC method;
	// tests exercising Create set this to control the resulting bolt11.
	invoiceResult interface{}
	invoiceErr    *fakeRPCError

	// liveHtlc controls listpeerchannels: when true, one payment_hash
	// (peerChannelHash) is reported as a live htlc in a NORMAL channel.
	liveHtlc       bool
	peerChannelHash string
}

func newFakeHost() *fakeHost {
	return &fakeHost{entries: make(map[string]fakeDatastoreEntry)}
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

// seedRecord directly inserts a record, bypassing the must-create check.
func (f *fakeHost) seedRecord(pluginName, paymentHash string, rec hostrpc.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := json.Marshal(rec)
	enc := hex.EncodeToString(b)
	k := fakeJoinKey([]string{pluginName, paymentHash})
	f.entries[k] = fakeDatastoreEntry{Key: []string{pluginName, paymentHash}, Hex: &enc, Generation: 0}
}

func (f *fakeHost) handle(method string, params json.RawMessage) (interface{}, *fakeRPCError) {
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

	case "invoice":
		if f.invoiceErr != nil {
			return nil, f.invoiceErr
		}
		return f.invoiceResult, nil

	case "listpeerchannels":
		if !f.liveHtlc {
			return struct {
				Channels []interface{} `json:"channels"`
			}{}, nil
		}
		return struct {
			Channels []struct {
				State string `json:"state"`
				Htlcs []struct {
					PaymentHash string `json:"payment_hash"`
					Direction   string `json:"direction"`
				} `json:"htlcs"`
			} `json:"channels"`
		}{Channels: []struct {
			State string `json:"state"`
			Htlcs []struct {
				PaymentHash string `json:"payment_hash"`
				Direction   string `json:"direction"`
			} `json:"htlcs"`
		}{
			{State: "CHANNELD_NORMAL", Htlcs: []struct {
				PaymentHash string `json:"payment_hash"`
				Direction   string `json:"direction"`
			}{{PaymentHash: f.peerChannelHash, Direction: "in"}}},
		}}, nil
	}
	return nil, &fakeRPCError{Code: 500, Message: "unhandled method " + method}
}

// newTestSurface stands up a real unix-socket-backed DSB+CIP fronting a
// fakeHost, and returns a Surface wired to it plus the fakeHost for
// fixture setup/assertions.
func newTestSurface(t *testing.T) (*Surface, *fakeHost, func()) {
	t.Helper()

	store := newFakeHost()
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
	cip := hostrpc.NewCIP(client)
	cleanup := func() {
		client.Close()
		lis.Close()
	}
	return NewSurface(engine.NewRegistry(), dsb, cip, config.Default()), store, cleanup
}

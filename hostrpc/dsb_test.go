package hostrpc

import (
	"encoding/json"
	"testing"

	"github.com/elementsproject/holdinvoice/holderrors"
)

// memDatastore is a minimal in-memory stand-in for lightningd's datastore
// RPC methods, keyed by the joined key path, enforcing must-create and
// must-replace/generation semantics the way the host does.
type memDatastore struct {
	entries map[string]datastoreEntry
}

func newMemDatastore() *memDatastore {
	return &memDatastore{entries: make(map[string]datastoreEntry)}
}

func joinKey(key []string) string {
	s := ""
	for i, k := range key {
		if i > 0 {
			s += "/"
		}
		s += k
	}
	return s
}

func (m *memDatastore) handle(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "datastore":
		var p struct {
			Key        []string `json:"key"`
			Hex        *string  `json:"hex"`
			String     *string  `json:"string"`
			Mode       string   `json:"mode"`
			Generation *uint64  `json:"generation"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: 400, Message: err.Error()}
		}
		k := joinKey(p.Key)
		existing, exists := m.entries[k]
		switch p.Mode {
		case "must-create":
			if exists {
				return nil, &rpcError{Code: datastoreErrorCode, Message: "already exists"}
			}
			m.entries[k] = datastoreEntry{Key: p.Key, Hex: p.Hex, String: p.String, Generation: 0}
		case "must-replace":
			if !exists {
				return nil, &rpcError{Code: datastoreErrorCode, Message: "key does not exist"}
			}
			if p.Generation != nil && *p.Generation != existing.Generation {
				return nil, &rpcError{Code: datastoreErrorCode, Message: "generation mismatch"}
			}
			m.entries[k] = datastoreEntry{Key: p.Key, Hex: p.Hex, String: p.String, Generation: existing.Generation + 1}
		default:
			return nil, &rpcError{Code: 400, Message: "unknown mode"}
		}
		return struct{}{}, nil

	case "listdatastore":
		var p struct {
			Key []string `json:"key"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: 400, Message: err.Error()}
		}
		prefix := joinKey(p.Key)
		var out []datastoreEntry
		for k, e := range m.entries {
			if k == prefix || (len(k) > len(prefix) && k[:len(prefix)+1] == prefix+"/") {
				out = append(out, e)
			}
		}
		return datastoreResult{Datastore: out}, nil

	case "deldatastore":
		var p struct {
			Key []string `json:"key"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: 400, Message: err.Error()}
		}
		k := joinKey(p.Key)
		if _, ok := m.entries[k]; !ok {
			return nil, &rpcError{Code: datastoreErrorCode, Message: "key does not exist"}
		}
		delete(m.entries, k)
		return struct{}{}, nil
	}
	return nil, &rpcError{Code: 500, Message: "unhandled method " + method}
}

func newTestDSB(t *testing.T) (*DSB, func()) {
	t.Helper()
	store := newMemDatastore()
	client, cleanup := newFakeHost(t, store.handle)
	return NewDSB(client, "holdinvoice"), cleanup
}

func testRecord(hash string) Record {
	return Record{
		Bolt11:        "lnbc1...",
		PaymentHash:   hash,
		PaymentSecret: "secret",
		AmountMsat:    1000,
		ExpiresAt:     1234567890,
		State:         "open",
	}
}

func TestDSBCreateGetRoundTrip(t *testing.T) {
	dsb, cleanup := newTestDSB(t)
	defer cleanup()

	rec := testRecord("aaaa")
	if err := dsb.Create("aaaa", rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, gen, err := dsb.Get("aaaa")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != "open" || got.AmountMsat != 1000 {
		t.Fatalf("Get() = %+v, want matching testRecord", got)
	}
	if gen != 0 {
		t.Fatalf("generation = %d, want 0 for a freshly created record", gen)
	}
}

func TestDSBCreateRejectsDuplicate(t *testing.T) {
	dsb, cleanup := newTestDSB(t)
	defer cleanup()

	rec := testRecord("bbbb")
	if err := dsb.Create("bbbb", rec); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := dsb.Create("bbbb", rec)
	if !holderrors.IsGenerationMismatch(err) {
		t.Fatalf("expected generation-mismatch-classified error on duplicate create, got %v", err)
	}
}

func TestDSBGetMissingIsNotFound(t *testing.T) {
	dsb, cleanup := newTestDSB(t)
	defer cleanup()

	_, _, err := dsb.Get("does-not-exist")
	if !holderrors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDSBReplaceCAS(t *testing.T) {
	dsb, cleanup := newTestDSB(t)
	defer cleanup()

	rec := testRecord("cccc")
	if err := dsb.Create("cccc", rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec.State = "accepted"
	if err := dsb.ReplaceCAS("cccc", rec, 0); err != nil {
		t.Fatalf("ReplaceCAS with correct generation: %v", err)
	}

	got, gen, err := dsb.Get("cccc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != "accepted" {
		t.Fatalf("State = %q, want accepted", got.State)
	}
	if gen != 1 {
		t.Fatalf("generation = %d, want 1 after one replace", gen)
	}

	// Stale generation must fail.
	rec.State = "settled"
	err = dsb.ReplaceCAS("cccc", rec, 0)
	if !holderrors.IsGenerationMismatch(err) {
		t.Fatalf("expected generation mismatch with a stale generation, got %v", err)
	}
}

func TestDSBReplaceForceIgnoresGeneration(t *testing.T) {
	dsb, cleanup := newTestDSB(t)
	defer cleanup()

	rec := testRecord("dddd")
	if err := dsb.Create("dddd", rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// A concurrent CAS bump the Hold Loop would have made.
	rec.State = "accepted"
	if err := dsb.ReplaceCAS("dddd", rec, 0); err != nil {
		t.Fatalf("ReplaceCAS: %v", err)
	}

	rec.State = "canceled"
	if err := dsb.ReplaceForce("dddd", rec); err != nil {
		t.Fatalf("ReplaceForce: %v", err)
	}

	got, _, err := dsb.Get("dddd")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != "canceled" {
		t.Fatalf("State = %q, want canceled", got.State)
	}
}

func TestDSBReplaceStateCASOnAbsentChildKey(t *testing.T) {
	dsb, cleanup := newTestDSB(t)
	defer cleanup()

	rec := testRecord("eeee")
	if err := dsb.Create("eeee", rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The child key starts out absent even though the top-level record
	// exists: ReplaceStateCAS/GetState address a distinct datastore key,
	// not a view onto Record.State.
	if _, _, err := dsb.GetState("eeee"); !holderrors.IsNotFound(err) {
		t.Fatalf("GetState before any write: expected NotFound, got %v", err)
	}

	if err := dsb.ReplaceStateCAS("eeee", "accepted", 0); !holderrors.IsNotFound(err) {
		t.Fatalf("ReplaceStateCAS must-create-style on an absent child key: expected NotFound, got %v", err)
	}
}

func TestDSBReplaceStateCASGenerationMismatch(t *testing.T) {
	dsb, cleanup := newTestDSB(t)
	defer cleanup()

	// ReplaceStateCAS always operates in must-replace mode, so it needs
	// the child key to already exist; seed it directly through the host
	// fake rather than via DSB, since DSB has no create for this key.
	params := struct {
		Key    []string `json:"key"`
		String string   `json:"string"`
		Mode   string   `json:"mode"`
	}{Key: []string{"holdinvoice", "ffff", "state"}, String: "open", Mode: "must-create"}
	if err := dsb.client.call("datastore", params, nil); err != nil {
		t.Fatalf("seed state child key: %v", err)
	}

	got, gen, err := dsb.GetState("ffff")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got != "open" || gen != 0 {
		t.Fatalf("GetState() = (%q, %d), want (\"open\", 0)", got, gen)
	}

	if err := dsb.ReplaceStateCAS("ffff", "accepted", gen); err != nil {
		t.Fatalf("ReplaceStateCAS with correct generation: %v", err)
	}
	got, gen, err = dsb.GetState("ffff")
	if err != nil {
		t.Fatalf("GetState after replace: %v", err)
	}
	if got != "accepted" || gen != 1 {
		t.Fatalf("GetState() = (%q, %d), want (\"accepted\", 1)", got, gen)
	}

	// A stale generation must be rejected, same as ReplaceCAS on the
	// top-level record.
	err = dsb.ReplaceStateCAS("ffff", "settled", 0)
	if !holderrors.IsGenerationMismatch(err) {
		t.Fatalf("expected generation mismatch with a stale generation, got %v", err)
	}
}

func TestDSBListAllAndDelete(t *testing.T) {
	dsb, cleanup := newTestDSB(t)
	defer cleanup()

	for _, h := range []string{"1111", "2222", "3333"} {
		if err := dsb.Create(h, testRecord(h)); err != nil {
			t.Fatalf("Create(%s): %v", h, err)
		}
	}

	records, gens, err := dsb.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 3 || len(gens) != 3 {
		t.Fatalf("ListAll returned %d records, %d generations, want 3/3", len(records), len(gens))
	}

	if err := dsb.Delete("2222"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := dsb.Delete("2222"); err != nil {
		t.Fatalf("Delete should be idempotent, got: %v", err)
	}

	records, _, err = dsb.ListAll()
	if err != nil {
		t.Fatalf("ListAll after delete: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListAll after delete returned %d records, want 2", len(records))
	}
}

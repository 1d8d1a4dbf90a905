package hostrpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/elementsproject/holdinvoice/holderrors"
)

// Record is the durable JSON blob persisted per invoice under
// (plugin_name, payment_hash), spec §3/§6.
type Record struct {
	Bolt11          string  `json:"bolt11"`
	PaymentHash     string  `json:"payment_hash"`
	PaymentSecret   string  `json:"payment_secret"`
	Preimage        *string `json:"preimage,omitempty"`
	Description     string  `json:"description,omitempty"`
	DescriptionHash *string `json:"description_hash,omitempty"`
	AmountMsat      uint64  `json:"amount_msat"`
	ExpiresAt       int64   `json:"expires_at"`
	State           string  `json:"state"`
	PaidAt          int64   `json:"paid_at,omitempty"`
	HtlcExpiry      uint32  `json:"htlc_expiry,omitempty"`
}

// DSB is the Datastore Binding of spec §4.1: a typed wrapper over the
// host's datastore RPC method, with generation-checked compare-and-swap.
type DSB struct {
	client     *Client
	pluginName string
}

// NewDSB constructs a Datastore Binding scoped to pluginName, the first
// path component of every datastore key (spec §6).
func NewDSB(client *Client, pluginName string) *DSB {
	return &DSB{client: client, pluginName: pluginName}
}

type datastoreParams struct {
	Key    []string `json:"key"`
	String *string  `json:"string,omitempty"`
	Hex    *string   `json:"hex,omitempty"`
	Mode   string   `json:"mode"`
}

type datastoreEntry struct {
	Key        []string `json:"key"`
	String     *string  `json:"string"`
	Hex        *string  `json:"hex"`
	Generation uint64   `json:"generation"`
}

type datastoreResult struct {
	Datastore []datastoreEntry `json:"datastore"`
}

func encodeRecord(r Record) string {
	b, _ := json.Marshal(r)
	return hex.EncodeToString(b)
}

func decodeRecord(hexStr string) (Record, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return Record{}, holderrors.TransportError(fmt.Errorf("decode datastore hex: %w", err))
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, holderrors.TransportError(fmt.Errorf("unmarshal datastore record: %w", err))
	}
	return r, nil
}

// Create writes a brand-new record, failing if the key already exists
// (spec §4.1 create, MUST_CREATE).
func (d *DSB) Create(paymentHash string, record Record) error {
	enc := encodeRecord(record)
	params := datastoreParams{
		Key:  []string{d.pluginName, paymentHash},
		Hex:  &enc,
		Mode: "must-create",
	}
	return d.client.call("datastore", params, nil)
}

// ReplaceCAS performs a generation-checked replace, failing with
// ErrGenerationMismatch if the stored generation differs (spec §4.1
// replace_cas).
func (d *DSB) ReplaceCAS(paymentHash string, record Record, expectedGeneration uint64) error {
	enc := encodeRecord(record)
	params := struct {
		datastoreParams
		Generation uint64 `json:"generation"`
	}{
		datastoreParams: datastoreParams{
			Key:  []string{d.pluginName, paymentHash},
			Hex:  &enc,
			Mode: "must-replace",
		},
		Generation: expectedGeneration,
	}
	return d.client.call("datastore", params, nil)
}

// ReplaceForce performs an unconditional replace, used by the Command
// Surface where the engine deliberately wins over any concurrent Hold
// Loop update (spec §4.1 replace_force).
func (d *DSB) ReplaceForce(paymentHash string, record Record) error {
	enc := encodeRecord(record)
	params := datastoreParams{
		Key:  []string{d.pluginName, paymentHash},
		Hex:  &enc,
		Mode: "must-replace",
	}
	return d.client.call("datastore", params, nil)
}

// Get fetches the record and its generation, returning ErrNotFound if
// absent (spec §4.1 get).
func (d *DSB) Get(paymentHash string) (Record, uint64, error) {
	var result datastoreResult
	err := d.client.call("listdatastore", struct {
		Key []string `json:"key"`
	}{Key: []string{d.pluginName, paymentHash}}, &result)
	if err != nil {
		return Record{}, 0, err
	}
	if len(result.Datastore) == 0 {
		return Record{}, 0, holderrors.ErrNotFound
	}
	entry := result.Datastore[0]
	if entry.Hex == nil {
		return Record{}, 0, holderrors.TransportError(fmt.Errorf("datastore entry for %s has no hex value", paymentHash))
	}
	rec, err := decodeRecord(*entry.Hex)
	if err != nil {
		return Record{}, 0, err
	}
	return rec, entry.Generation, nil
}

// ListAll enumerates every record under this plugin's key prefix (spec
// §4.1 list_all).
func (d *DSB) ListAll() ([]Record, []uint64, error) {
	var result datastoreResult
	err := d.client.callDeduped("list_all", "listdatastore", struct {
		Key []string `json:"key"`
	}{Key: []string{d.pluginName}}, &result)
	if err != nil {
		return nil, nil, err
	}

	records := make([]Record, 0, len(result.Datastore))
	gens := make([]uint64, 0, len(result.Datastore))
	for _, entry := range result.Datastore {
		if entry.Hex == nil {
			continue
		}
		rec, err := decodeRecord(*entry.Hex)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
		gens = append(gens, entry.Generation)
	}
	return records, gens, nil
}

// Delete removes the record for paymentHash. Idempotent (spec §4.1
// delete).
func (d *DSB) Delete(paymentHash string) error {
	err := d.client.call("deldatastore", struct {
		Key []string `json:"key"`
	}{Key: []string{d.pluginName, paymentHash}}, nil)
	if err != nil && !holderrors.IsNotFound(err) {
		return err
	}
	return nil
}

// ReplaceStateCAS writes only the (plugin_name, payment_hash, "state")
// child key as a plain string, generation-checked. It is kept as a typed
// wrapper over the original implementation's child-key layout but is not
// on the Hold Loop's commit path: HL CASes the single top-level JSON
// record via ReplaceCAS, so only one generation counter ever needs
// reconciling against the Command Surface's writes. Exported for callers
// that want to flip just the state child key without touching the rest
// of the record.
func (d *DSB) ReplaceStateCAS(paymentHash, state string, expectedGeneration uint64) error {
	params := struct {
		Key        []string `json:"key"`
		String     string   `json:"string"`
		Mode       string   `json:"mode"`
		Generation uint64   `json:"generation"`
	}{
		Key:        []string{d.pluginName, paymentHash, "state"},
		String:     state,
		Mode:       "must-replace",
		Generation: expectedGeneration,
	}
	return d.client.call("datastore", params, nil)
}

// GetState reads the (plugin_name, payment_hash, "state") child key.
func (d *DSB) GetState(paymentHash string) (string, uint64, error) {
	var result datastoreResult
	err := d.client.call("listdatastore", struct {
		Key []string `json:"key"`
	}{Key: []string{d.pluginName, paymentHash, "state"}}, &result)
	if err != nil {
		return "", 0, err
	}
	if len(result.Datastore) == 0 || result.Datastore[0].String == nil {
		return "", 0, holderrors.ErrNotFound
	}
	return *result.Datastore[0].String, result.Datastore[0].Generation, nil
}

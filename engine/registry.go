package engine

import (
	"sync"

	"github.com/elementsproject/holdinvoice/holderrors"
)

// Registry is the Hold Registry (HR) of spec §4.3: a shared mutable map
// payment_hash -> HoldInvoice, protected by a single mutex. It is
// structurally the teacher's InvoiceRegistry (invoices/invoiceregistry.go)
// generalized from whole-invoice subscription fan-out to per-HTLC wake
// signals, since spec §4.3 needs the former's lock discipline but not its
// notification-client bookkeeping.
type Registry struct {
	mu       sync.Mutex
	invoices map[[32]byte]*HoldInvoice
}

// NewRegistry constructs an empty Hold Registry.
func NewRegistry() *Registry {
	return &Registry{
		invoices: make(map[[32]byte]*HoldInvoice),
	}
}

// Get returns the HoldInvoice for paymentHash, if present.
func (r *Registry) Get(paymentHash [32]byte) (*HoldInvoice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[paymentHash]
	return inv, ok
}

// Put inserts or overwrites the HoldInvoice for paymentHash. Per spec
// §4.3, an inserted invoice must carry at least one HoldHtlc; this is the
// caller's responsibility (the Hook Handler never inserts an empty one).
func (r *Registry) Put(paymentHash [32]byte, inv *HoldInvoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[paymentHash] = inv
}

// AddHtlc inserts a HoldHtlc into the invoice's htlc_data, creating the
// invoice entry via newInvoice() if it doesn't already exist. Returns the
// invoice the htlc was added to.
func (r *Registry) AddHtlc(paymentHash [32]byte, id HtlcIdentifier,
	htlc *HoldHtlc, newInvoice func() *HoldInvoice) *HoldInvoice {

	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invoices[paymentHash]
	if !ok {
		inv = newInvoice()
		r.invoices[paymentHash] = inv
	}
	inv.HtlcData[id] = htlc
	return inv
}

// RemoveHtlc deletes the identified HoldHtlc. If that was the invoice's
// last HoldHtlc, the whole payment_hash entry is removed (spec §3
// lifecycle, §4.3 removal rule).
func (r *Registry) RemoveHtlc(paymentHash [32]byte, id HtlcIdentifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invoices[paymentHash]
	if !ok {
		return
	}
	delete(inv.HtlcData, id)
	if len(inv.HtlcData) == 0 {
		delete(r.invoices, paymentHash)
	}
}

// RegisterFirstHtlc implements the HTLC Hook Handler's registration step
// (spec §4.5 step 2): under the HR lock, if payment_hash is already
// present this is a subsequent HTLC on an already-held invoice; otherwise
// dsbLookup is invoked (while still holding the lock, since it runs a
// single DSB RPC and the whole point is that no second hook call for the
// same hash can race the creation of the HR entry) to build the invoice
// from the datastore. dsbLookup returning holderrors.ErrNotFound or any
// other error aborts registration; the htlc is not added in that case.
func (r *Registry) RegisterFirstHtlc(paymentHash [32]byte, id HtlcIdentifier,
	htlc *HoldHtlc, dsbLookup func() (*HoldInvoice, error)) (inv *HoldInvoice, alreadyHeld bool, err error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.invoices[paymentHash]; ok {
		existing.HtlcData[id] = htlc
		return existing, true, nil
	}

	newInv, err := dsbLookup()
	if err != nil {
		return nil, false, err
	}
	newInv.HtlcData[id] = htlc
	r.invoices[paymentHash] = newInv
	return newInv, false, nil
}

// WakeAll sets every HoldHtlc's wake signal for the given invoice (spec
// §4.3 wake_all). Used by CS after a settle/cancel write.
func (r *Registry) WakeAll(paymentHash [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invoices[paymentHash]
	if !ok {
		return
	}
	for _, h := range inv.HtlcData {
		h.WakeSignal.Set()
	}
}

// WakeEverything walks every invoice in the registry and sets every
// HoldHtlc's wake signal (spec §4.4, triggered after block_added).
func (r *Registry) WakeEverything() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inv := range r.invoices {
		for _, h := range inv.HtlcData {
			h.WakeSignal.Set()
		}
	}
}

// WithInvoice runs fn with the named invoice locked against concurrent HR
// mutation, returning holderrors.Fatal (invariant I1 violated) if the
// invoice is missing — the caller is expected to be a Hold Loop iteration
// that registered the invoice itself at hook time.
func (r *Registry) WithInvoice(paymentHash [32]byte, fn func(inv *HoldInvoice)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invoices[paymentHash]
	if !ok {
		return holderrors.Fatal("invariant I1 violated: payment_hash %x missing from hold registry", paymentHash)
	}
	fn(inv)
	return nil
}

// Snapshot reports, at one point in time, whether paymentHash is
// registered and how many HTLCs are currently held for it.
func (r *Registry) Snapshot(paymentHash [32]byte) (htlcCount int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, present := r.invoices[paymentHash]
	if !present {
		return 0, false
	}
	return len(inv.HtlcData), true
}

package engine

import (
	"encoding/hex"

	"github.com/elementsproject/holdinvoice/engine/wireerr"
	"github.com/elementsproject/holdinvoice/hostrpc"
	"github.com/elementsproject/holdinvoice/holderrors"
)

// HtlcAcceptedEvent is the structured htlc_accepted hook payload (spec
// §6).
type HtlcAcceptedEvent struct {
	Scid        uint64
	HtlcID      uint64
	AmountMsat  uint64
	CltvExpiry  uint32
	PaymentHash [32]byte
	ForwardTo   *string
}

// VerdictKind is the htlc_accepted hook's three possible dispositions
// (spec §4.5).
type VerdictKind int

const (
	VerdictContinue VerdictKind = iota
	VerdictResolve
	VerdictFail
)

// Verdict is what the Hook Handler (directly, or via the Hold Loop)
// returns to the host for one HTLC.
type Verdict struct {
	Kind           VerdictKind
	Preimage       *[32]byte
	FailureMessage string
}

func continueVerdict() Verdict { return Verdict{Kind: VerdictContinue} }

func resolveVerdict(preimage [32]byte) Verdict {
	return Verdict{Kind: VerdictResolve, Preimage: &preimage}
}

func failVerdict(amountMsat uint64, blockHeight uint32) Verdict {
	return Verdict{Kind: VerdictFail, FailureMessage: wireerr.Build(amountMsat, blockHeight)}
}

// HookHandler is the HTLC Hook Handler (HH) of spec §4.5: the synchronous
// entry point the host calls for every accepted-but-unresolved HTLC.
type HookHandler struct {
	registry *Registry
	dsb      *hostrpc.DSB
	bht      *BlockHeightTracker
	loop     *HoldLoop
}

// NewHookHandler wires the Hook Handler to its collaborators.
func NewHookHandler(registry *Registry, dsb *hostrpc.DSB, bht *BlockHeightTracker, loop *HoldLoop) *HookHandler {
	return &HookHandler{registry: registry, dsb: dsb, bht: bht, loop: loop}
}

// Handle runs the spec §4.5 algorithm for one htlc_accepted event,
// blocking until the Hold Loop produces a verdict (or the HTLC is
// immediately failed because the invoice is already CANCELED).
func (h *HookHandler) Handle(event HtlcAcceptedEvent) (Verdict, error) {
	// Step 1: never hold forwards.
	if event.ForwardTo != nil {
		return continueVerdict(), nil
	}

	id := HtlcIdentifier{Scid: event.Scid, HtlcID: event.HtlcID}
	htlc := &HoldHtlc{
		AmountMsat: event.AmountMsat,
		CltvExpiry: event.CltvExpiry,
		WakeSignal: NewWakeSignal(),
	}

	paymentHashHex := hex.EncodeToString(event.PaymentHash[:])

	inv, _, err := h.registry.RegisterFirstHtlc(event.PaymentHash, id, htlc, func() (*HoldInvoice, error) {
		rec, generation, dsbErr := h.dsb.Get(paymentHashHex)
		if holderrors.IsNotFound(dsbErr) {
			return nil, dsbErr
		}
		if dsbErr != nil {
			return nil, dsbErr
		}
		return FromRecord(rec, generation)
	})
	if err != nil {
		if holderrors.IsNotFound(err) {
			// Step 2, DSB NotFound: not our invoice.
			return continueVerdict(), nil
		}
		return Verdict{}, err
	}

	// Step 4: if CANCELED right now, fail immediately without entering
	// the Hold Loop.
	if stateIsCanceled(inv) {
		h.registry.RemoveHtlc(event.PaymentHash, id)
		return failVerdict(event.AmountMsat, h.bht.Height()), nil
	}

	// Step 5: enter the Hold Loop.
	return h.loop.Run(event.PaymentHash, id, event.AmountMsat)
}

func stateIsCanceled(inv *HoldInvoice) bool {
	return inv.State == Canceled
}

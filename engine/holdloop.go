package engine

import (
	"encoding/hex"
	"time"

	"github.com/elementsproject/holdinvoice/config"
	"github.com/elementsproject/holdinvoice/holderrors"
	"github.com/elementsproject/holdinvoice/hostrpc"
)

// wakePollFloor is the sleep that prevents unbounded spin when a wake
// signal fires spuriously or the invoice-time policy hasn't tripped yet
// (spec §4.6 preamble).
const wakePollFloor = 2 * time.Second

// NotifyAcceptedFunc emits the hold_invoice_accepted notification (spec
// §6) whenever an invoice transitions OPEN -> ACCEPTED.
type NotifyAcceptedFunc func(paymentHash [32]byte, htlcExpiry uint32)

// HoldLoop is the Hold Loop (HL) of spec §4.6: one instance is shared by
// every in-flight HTLC, each running HL.Run in its own goroutine, the way
// the teacher's invoiceregistry.go runs one notifyClient loop per
// subscriber against a single shared InvoiceRegistry.
type HoldLoop struct {
	registry *Registry
	dsb      *hostrpc.DSB
	bht      *BlockHeightTracker
	cfg      *config.Config
	notify   NotifyAcceptedFunc

	startedAt time.Time
}

// NewHoldLoop wires a Hold Loop to its collaborators. startedAt seeds the
// startup-grace window of spec §5.
func NewHoldLoop(registry *Registry, dsb *hostrpc.DSB, bht *BlockHeightTracker,
	cfg *config.Config, notify NotifyAcceptedFunc, startedAt time.Time) *HoldLoop {

	return &HoldLoop{
		registry:  registry,
		dsb:       dsb,
		bht:       bht,
		cfg:       cfg,
		notify:    notify,
		startedAt: startedAt,
	}
}

// Run blocks until a verdict can be produced for the identified HTLC,
// implementing the per-iteration algorithm of spec §4.6. Once the Hook
// Handler has registered an HTLC and handed it here, Run is the only path
// that returns its Verdict (the Hook Handler answers directly only when
// the invoice is already CANCELED at registration); per spec §7, HL never surfaces a bare error to the host
// — every error path here either retries after a sleep or resolves into
// one of the three verdicts.
func (hl *HoldLoop) Run(paymentHash [32]byte, id HtlcIdentifier, amountMsat uint64) (Verdict, error) {
	paymentHashHex := hex.EncodeToString(paymentHash[:])

	for {
		htlc, ok := hl.currentHtlc(paymentHash, id)
		if !ok {
			// The HTLC was already removed by a prior iteration racing
			// us (e.g. a concurrent CS drain). Nothing left to do.
			return continueVerdict(), nil
		}

		// Step 1: wait for a wake, or for the invoice-time policy to
		// trip, subject to the 2s poll floor.
		hl.waitForWake(paymentHash, htlc)

		// Steps 2-7: evaluate and act, all under the HR lock via
		// WithInvoice so no CS command can interleave mid-decision.
		var verdict Verdict
		var verdictReady bool
		fatalErr := hl.registry.WithInvoice(paymentHash, func(inv *HoldInvoice) {
			verdict, verdictReady = hl.evaluateLocked(inv, htlc, id, paymentHashHex, amountMsat)
		})
		if fatalErr != nil {
			// Invariant I1 violated: fail this HTLC and keep serving
			// the rest of the node (spec §7 Fatal handling).
			log.Errorf("hold loop: %v", fatalErr)
			return failVerdict(amountMsat, hl.bht.Height()), nil
		}
		if verdictReady {
			return verdict, nil
		}
		// CAS failure or a non-terminal iteration: loop back to step 1.
	}
}

func (hl *HoldLoop) currentHtlc(paymentHash [32]byte, id HtlcIdentifier) (*HoldHtlc, bool) {
	inv, ok := hl.registry.Get(paymentHash)
	if !ok {
		return nil, false
	}
	htlc, ok := inv.HtlcData[id]
	return htlc, ok
}

// waitForWake implements step 1: sleep in wakePollFloor increments until
// either the HTLC's wake signal is set or (when enabled) the invoice-time
// policy is near/after expiry.
func (hl *HoldLoop) waitForWake(paymentHash [32]byte, htlc *HoldHtlc) {
	for {
		if htlc.WakeSignal.IsSet() {
			return
		}
		if hl.cfg.InvoiceTimePolicyEnabled() && hl.invoiceTimeNearExpiry(paymentHash) {
			return
		}
		time.Sleep(wakePollFloor)
	}
}

func (hl *HoldLoop) invoiceTimeNearExpiry(paymentHash [32]byte) bool {
	inv, ok := hl.registry.Get(paymentHash)
	if !ok {
		return false
	}
	cushion := int64(*hl.cfg.CancelBeforeInvoiceSeconds)
	return inv.ExpiresAt <= time.Now().Unix()+cushion
}

// evaluateLocked runs steps 3-7 of spec §4.6 with the HR lock already
// held (via Registry.WithInvoice). It returns (verdict, true) when this
// iteration produces a terminal result for this HTLC, or (_, false) when
// the caller should loop back to step 1 (including on CAS failure, step
// 8).
func (hl *HoldLoop) evaluateLocked(inv *HoldInvoice, htlc *HoldHtlc, id HtlcIdentifier,
	paymentHashHex string, amountMsat uint64) (Verdict, bool) {

	// Step 3: re-read persisted state, refreshing HR's cached view.
	rec, generation, err := hl.dsb.Get(paymentHashHex)
	if err != nil {
		log.Debugf("hold loop: dsb read failed for %s: %v", paymentHashHex, err)
		return Verdict{}, false
	}
	state, err := ParseHoldState(rec.State)
	if err != nil {
		log.Errorf("hold loop: bad persisted state for %s: %v", paymentHashHex, err)
		return Verdict{}, false
	}
	inv.State = state
	inv.Generation = generation
	inv.AmountMsat = rec.AmountMsat
	inv.ExpiresAt = rec.ExpiresAt
	inv.PaidAt = rec.PaidAt
	inv.HtlcExpiry = rec.HtlcExpiry
	if rec.Preimage != nil {
		pre, hexErr := DecodeHex32(*rec.Preimage)
		if hexErr == nil {
			inv.Preimage = &pre
		}
	}

	height := hl.bht.Height()

	// Step 4: expiry computations.
	softExpired := htlc.CltvExpiry <= height+hl.cfg.CancelBeforeHtlcBlocks
	hardExpired := htlc.CltvExpiry <= height
	if hl.cfg.InvoiceTimePolicyEnabled() {
		cushion := int64(*hl.cfg.CancelBeforeInvoiceSeconds)
		now := time.Now().Unix()
		if inv.ExpiresAt <= now+cushion {
			softExpired = true
		}
		if inv.ExpiresAt <= now {
			hardExpired = true
		}
	}

	// Step 5: auto-settle on soft expiry.
	if softExpired && !hardExpired && inv.State == Accepted && inv.Preimage != nil {
		if !hl.casTransition(inv, Settled, paymentHashHex) {
			return Verdict{}, false
		}
	} else if (softExpired && (inv.State == Open || inv.State == Accepted)) || hardExpired {
		// Step 6: auto-cancel on expiry.
		if !hl.casTransition(inv, Canceled, paymentHashHex) {
			return Verdict{}, false
		}
	}

	// Step 7: act on the current state.
	switch inv.State {
	case Open:
		return hl.actOpen(inv, htlc, paymentHashHex)
	case Accepted:
		return hl.actAccepted(inv, paymentHashHex)
	case Settled:
		// The HR lock is already held here, so the HTLC is removed from
		// the registry map directly: Registry.RemoveHtlc would take the
		// same lock again.
		delete(inv.HtlcData, id)
		if len(inv.HtlcData) == 0 {
			delete(hl.registry.invoices, inv.PaymentHash)
		}
		if inv.Preimage == nil {
			log.Errorf("hold loop: %s settled with no preimage", paymentHashHex)
			return failVerdict(amountMsat, height), true
		}
		return resolveVerdict(*inv.Preimage), true
	case Canceled:
		delete(inv.HtlcData, id)
		if len(inv.HtlcData) == 0 {
			delete(hl.registry.invoices, inv.PaymentHash)
		}
		return failVerdict(amountMsat, height), true
	default:
		return Verdict{}, false
	}
}

// actOpen handles the OPEN branch of step 7. It never itself returns a
// terminal verdict: a transition to CANCELED or ACCEPTED here only updates
// HR/DSB state, and the *next* iteration's switch in evaluateLocked acts
// on the new state (matching step 7's own phrasing, which describes OPEN
// and ACCEPTED as producing no verdict this iteration).
func (hl *HoldLoop) actOpen(inv *HoldInvoice, htlc *HoldHtlc, paymentHashHex string) (Verdict, bool) {
	startupGraceOver := time.Since(hl.startedAt) >= time.Duration(hl.cfg.StartupLockSeconds)*time.Second
	if startupGraceOver && inv.ExpiresAt <= time.Now().Unix() {
		if !hl.casTransition(inv, Canceled, paymentHashHex) {
			return Verdict{}, false
		}
		return Verdict{}, false
	}

	if inv.SumHtlcAmounts() >= inv.AmountMsat {
		htlcExpiry := inv.MinCltvExpiry()
		if !hl.casTransitionAccepted(inv, htlcExpiry, paymentHashHex) {
			return Verdict{}, false
		}
		if hl.notify != nil {
			hl.notify(inv.PaymentHash, htlcExpiry)
		}
		htlc.WakeSignal.Clear()
		return Verdict{}, false
	}

	htlc.WakeSignal.Clear()
	return Verdict{}, false
}

func (hl *HoldLoop) actAccepted(inv *HoldInvoice, paymentHashHex string) (Verdict, bool) {
	if inv.SumHtlcAmounts() < inv.AmountMsat {
		hl.casTransition(inv, Open, paymentHashHex)
		return Verdict{}, false
	}
	for _, h := range inv.HtlcData {
		h.WakeSignal.Clear()
	}
	return Verdict{}, false
}

// casTransition persists a bare state transition (no htlc_expiry change)
// via a generation-checked replace of the full record: commits always CAS
// the single top-level record, never the separate state-only child key,
// so there is exactly one generation counter to reconcile per invoice.
func (hl *HoldLoop) casTransition(inv *HoldInvoice, to HoldState, paymentHashHex string) bool {
	if !IsValidTransition(inv.State, to) {
		return true
	}
	next := *inv
	next.State = to
	if to == Settled {
		next.PaidAt = time.Now().Unix()
	}
	rec := ToRecord(&next)
	if err := hl.dsb.ReplaceCAS(paymentHashHex, rec, inv.Generation); err != nil {
		if holderrors.IsGenerationMismatch(err) {
			log.Debugf("hold loop: generation mismatch committing %s -> %s for %s", inv.State, to, paymentHashHex)
		} else {
			log.Errorf("hold loop: transport error committing %s -> %s for %s: %v", inv.State, to, paymentHashHex, err)
		}
		return false
	}
	inv.State = to
	inv.Generation++
	if to == Settled {
		inv.PaidAt = next.PaidAt
	}
	return true
}

// casTransitionAccepted is casTransition specialized for OPEN->ACCEPTED,
// which additionally persists htlc_expiry (spec §4.6 step 7).
func (hl *HoldLoop) casTransitionAccepted(inv *HoldInvoice, htlcExpiry uint32, paymentHashHex string) bool {
	if !IsValidTransition(inv.State, Accepted) {
		return true
	}
	next := *inv
	next.State = Accepted
	next.HtlcExpiry = htlcExpiry
	rec := ToRecord(&next)
	if err := hl.dsb.ReplaceCAS(paymentHashHex, rec, inv.Generation); err != nil {
		if holderrors.IsGenerationMismatch(err) {
			log.Debugf("hold loop: generation mismatch accepting %s", paymentHashHex)
		} else {
			log.Errorf("hold loop: transport error accepting %s: %v", paymentHashHex, err)
		}
		return false
	}
	inv.State = Accepted
	inv.HtlcExpiry = htlcExpiry
	inv.Generation++
	return true
}

// Package command implements the Command Surface (CS) of spec §4.7: the
// four operator-facing operations (create/settle/cancel/lookup), their
// dynamic-argument-shape normalization, and the post-write drain barrier.
// It is grounded on the teacher's invoices/invoiceregistry.go
// SettleHodlInvoice/CancelInvoice pattern (force-replace then wake every
// subscriber), generalized here to force-replace-then-wake-every-HoldHtlc
// plus a host-side poll for HTLC drain, and on
// original_source/src/hold.rs's argument-shape handling.
package command

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/elementsproject/holdinvoice/config"
	"github.com/elementsproject/holdinvoice/engine"
	"github.com/elementsproject/holdinvoice/holderrors"
	"github.com/elementsproject/holdinvoice/hostrpc"
)

const (
	drainPollInterval = 2 * time.Second
	drainTimeout       = 30 * time.Second
)

// Surface is the Command Surface. It never touches a HoldHtlc's wake
// signal directly; Registry.WakeAll does that under the HR lock (spec §5
// lock discipline).
type Surface struct {
	registry *engine.Registry
	dsb      *hostrpc.DSB
	cip      *hostrpc.CIP
	cfg      *config.Config
}

// NewSurface wires a Command Surface to its collaborators.
func NewSurface(registry *engine.Registry, dsb *hostrpc.DSB, cip *hostrpc.CIP, cfg *config.Config) *Surface {
	return &Surface{registry: registry, dsb: dsb, cip: cip, cfg: cfg}
}

// InvoiceResponse is the JSON shape of a HoldInvoice returned to the
// operator. Preimage is included only when the caller itself supplied or
// already knew it (spec §6: "minus the preimage unless the caller
// supplied one").
type InvoiceResponse struct {
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

// StateResponse is the result shape of settle/cancel.
type StateResponse struct {
	State string `json:"state"`
}

// LookupEntry is one invoice as reported by lookup.
type LookupEntry struct {
	PaymentHash string `json:"payment_hash"`
	State       string `json:"state"`
	HtlcExpiry  uint32 `json:"htlc_expiry,omitempty"`
}

// LookupResponse is the result shape of lookup.
type LookupResponse struct {
	HoldInvoices []LookupEntry `json:"holdinvoices"`
}

var createArgOrder = []string{
	"amount_msat", "description", "expiry", "payment_hash", "preimage",
	"cltv", "deschashonly", "exposeprivatechannels",
}

// Create implements spec §4.7 create.
func (s *Surface) Create(raw json.RawMessage) (*InvoiceResponse, error) {
	args, err := splitArgs(raw, createArgOrder)
	if err != nil {
		return nil, err
	}

	amountMsat, err := reqUint64(args, "amount_msat")
	if err != nil {
		return nil, err
	}
	if amountMsat == 0 {
		return nil, holderrors.InputError("amount_msat must be > 0")
	}

	description, err := reqString(args, "description")
	if err != nil {
		return nil, err
	}

	expiry, err := optUint64(args, "expiry")
	if err != nil {
		return nil, err
	}
	if s.cfg.InvoiceTimePolicyEnabled() {
		minExpiry := *s.cfg.CancelBeforeInvoiceSeconds + 1
		if expiry != nil && *expiry < minExpiry {
			return nil, holderrors.InputError("expiry must be >= %d", minExpiry)
		}
	}

	cltv, err := optUint32(args, "cltv")
	if err != nil {
		return nil, err
	}
	minCltv := s.cfg.CancelBeforeHtlcBlocks + 1
	if cltv != nil && *cltv < minCltv {
		return nil, holderrors.InputError("cltv must be >= %d", minCltv)
	}

	paymentHashArg, err := optString(args, "payment_hash")
	if err != nil {
		return nil, err
	}
	preimageArg, err := optString(args, "preimage")
	if err != nil {
		return nil, err
	}
	deschashonly, err := optBool(args, "deschashonly")
	if err != nil {
		return nil, err
	}
	exposePrivateChannels, err := optStringSlice(args, "exposeprivatechannels")
	if err != nil {
		return nil, err
	}

	// sha256(preimage) == payment_hash whenever both are given; neither
	// given generates a fresh preimage; payment_hash alone is the
	// classic hold-invoice case where the preimage is known only to a
	// third party and arrives later via settle.
	var preimage *[32]byte
	var paymentHash [32]byte
	var preimageSuppliedByCaller bool

	switch {
	case preimageArg != nil && paymentHashArg != nil:
		pre, hexErr := engine.DecodeHex32(*preimageArg)
		if hexErr != nil {
			return nil, holderrors.InputError("preimage: %v", hexErr)
		}
		wantHash, hexErr := engine.DecodeHex32(*paymentHashArg)
		if hexErr != nil {
			return nil, holderrors.InputError("payment_hash: %v", hexErr)
		}
		if sha256.Sum256(pre[:]) != wantHash {
			return nil, holderrors.InputError("sha256(preimage) does not match payment_hash")
		}
		preimage = &pre
		paymentHash = wantHash
		preimageSuppliedByCaller = true

	case preimageArg != nil:
		pre, hexErr := engine.DecodeHex32(*preimageArg)
		if hexErr != nil {
			return nil, holderrors.InputError("preimage: %v", hexErr)
		}
		preimage = &pre
		paymentHash = sha256.Sum256(pre[:])
		preimageSuppliedByCaller = true

	case paymentHashArg != nil:
		hash, hexErr := engine.DecodeHex32(*paymentHashArg)
		if hexErr != nil {
			return nil, holderrors.InputError("payment_hash: %v", hexErr)
		}
		paymentHash = hash

	default:
		var pre [32]byte
		if _, randErr := rand.Read(pre[:]); randErr != nil {
			return nil, holderrors.TransportError(randErr)
		}
		preimage = &pre
		paymentHash = sha256.Sum256(pre[:])
	}

	paymentHashHex := hex.EncodeToString(paymentHash[:])

	invReq := hostrpc.CreateInvoiceRequest{
		AmountMsat:            amountMsat,
		Label:                 "holdinvoice-" + paymentHashHex,
		Description:           description,
		DeschashOnly:          deschashonly,
		ExposePrivateChannels: exposePrivateChannels,
	}
	if expiry != nil {
		invReq.Expiry = *expiry
	}
	if cltv != nil {
		invReq.Cltv = *cltv
	}
	if preimage != nil {
		preHex := hex.EncodeToString(preimage[:])
		invReq.Preimage = &preHex
	}

	created, err := s.cip.CreateInvoice(invReq)
	if err != nil {
		return nil, err
	}

	inv := &engine.HoldInvoice{
		Bolt11:      created.Bolt11,
		PaymentHash: paymentHash,
		State:       engine.Open,
		AmountMsat:  amountMsat,
		Description: description,
		ExpiresAt:   created.ExpiresAt,
		Preimage:    preimage,
		HtlcData:    make(map[engine.HtlcIdentifier]*engine.HoldHtlc),
	}
	if paymentSecret, hexErr := engine.DecodeHex32(created.PaymentSecret); hexErr == nil {
		inv.PaymentSecret = paymentSecret
	}

	if err := s.dsb.Create(paymentHashHex, engine.ToRecord(inv)); err != nil {
		if holderrors.IsGenerationMismatch(err) {
			return nil, holderrors.InputError("payment_hash %s already exists", paymentHashHex)
		}
		return nil, err
	}

	resp := toResponse(inv)
	if !preimageSuppliedByCaller {
		resp.Preimage = nil
	}
	return resp, nil
}

var settleArgOrder = []string{"payment_hash", "preimage"}

// Settle implements spec §4.7 settle.
func (s *Surface) Settle(raw json.RawMessage) (*StateResponse, error) {
	args, err := splitArgs(raw, settleArgOrder)
	if err != nil {
		return nil, err
	}

	paymentHashArg, err := optString(args, "payment_hash")
	if err != nil {
		return nil, err
	}
	preimageArg, err := optString(args, "preimage")
	if err != nil {
		return nil, err
	}
	if (paymentHashArg == nil) == (preimageArg == nil) {
		return nil, holderrors.InputError("settle requires exactly one of payment_hash or preimage")
	}

	var paymentHash [32]byte
	var suppliedPreimage *[32]byte
	if preimageArg != nil {
		pre, hexErr := engine.DecodeHex32(*preimageArg)
		if hexErr != nil {
			return nil, holderrors.InputError("preimage: %v", hexErr)
		}
		suppliedPreimage = &pre
		paymentHash = sha256.Sum256(pre[:])
	} else {
		hash, hexErr := engine.DecodeHex32(*paymentHashArg)
		if hexErr != nil {
			return nil, holderrors.InputError("payment_hash: %v", hexErr)
		}
		paymentHash = hash
	}
	paymentHashHex := hex.EncodeToString(paymentHash[:])

	rec, _, err := s.dsb.Get(paymentHashHex)
	if err != nil {
		if holderrors.IsNotFound(err) {
			return nil, holderrors.NotFoundError(paymentHashHex)
		}
		return nil, err
	}

	current, err := engine.ParseHoldState(rec.State)
	if err != nil {
		return nil, holderrors.Fatal("corrupt persisted state for %s: %v", paymentHashHex, err)
	}

	var recordedPreimage *[32]byte
	if rec.Preimage != nil {
		if p, hexErr := engine.DecodeHex32(*rec.Preimage); hexErr == nil {
			recordedPreimage = &p
		}
	}

	// Idempotent no-op: settle-after-settle with a matching (or absent)
	// supplied preimage succeeds silently; a conflicting supplied
	// preimage is InputError (spec §8 round-trip property).
	if current == engine.Settled {
		if suppliedPreimage != nil && (recordedPreimage == nil || *recordedPreimage != *suppliedPreimage) {
			return nil, holderrors.InputError("payment_hash %s already settled with a different preimage", paymentHashHex)
		}
		return &StateResponse{State: engine.Settled.String()}, nil
	}

	if !engine.IsValidTransition(current, engine.Settled) {
		return nil, holderrors.WrongStateError(current.String(), engine.Settled.String())
	}

	finalPreimage := recordedPreimage
	if suppliedPreimage != nil {
		if recordedPreimage != nil && *recordedPreimage != *suppliedPreimage {
			return nil, holderrors.InputError("supplied preimage does not match the stored preimage for %s", paymentHashHex)
		}
		finalPreimage = suppliedPreimage
	}
	if finalPreimage == nil {
		return nil, holderrors.InputError("no preimage known for %s; supply one to settle", paymentHashHex)
	}

	preHex := hex.EncodeToString(finalPreimage[:])
	rec.Preimage = &preHex
	rec.State = engine.Settled.String()
	rec.PaidAt = time.Now().Unix()

	if err := s.dsb.ReplaceForce(paymentHashHex, rec); err != nil {
		return nil, err
	}

	s.registry.WakeAll(paymentHash)

	if err := s.drainBarrier(paymentHashHex); err != nil {
		return nil, err
	}
	return &StateResponse{State: engine.Settled.String()}, nil
}

var cancelArgOrder = []string{"payment_hash"}

// Cancel implements spec §4.7 cancel.
func (s *Surface) Cancel(raw json.RawMessage) (*StateResponse, error) {
	args, err := splitArgs(raw, cancelArgOrder)
	if err != nil {
		return nil, err
	}
	paymentHashStr, err := reqString(args, "payment_hash")
	if err != nil {
		return nil, err
	}
	paymentHash, hexErr := engine.DecodeHex32(paymentHashStr)
	if hexErr != nil {
		return nil, holderrors.InputError("payment_hash: %v", hexErr)
	}
	paymentHashHex := hex.EncodeToString(paymentHash[:])

	rec, _, err := s.dsb.Get(paymentHashHex)
	if err != nil {
		if holderrors.IsNotFound(err) {
			return nil, holderrors.NotFoundError(paymentHashHex)
		}
		return nil, err
	}

	current, err := engine.ParseHoldState(rec.State)
	if err != nil {
		return nil, holderrors.Fatal("corrupt persisted state for %s: %v", paymentHashHex, err)
	}
	if !engine.IsValidTransition(current, engine.Canceled) {
		return nil, holderrors.WrongStateError(current.String(), engine.Canceled.String())
	}

	rec.State = engine.Canceled.String()
	if err := s.dsb.ReplaceForce(paymentHashHex, rec); err != nil {
		return nil, err
	}

	s.registry.WakeAll(paymentHash)

	if err := s.drainBarrier(paymentHashHex); err != nil {
		return nil, err
	}
	return &StateResponse{State: engine.Canceled.String()}, nil
}

var lookupArgOrder = []string{"payment_hash"}

// Lookup implements spec §4.7 lookup. It never drains (spec §4.7 Open
// Questions: this spec chooses the non-blocking lookup).
func (s *Surface) Lookup(raw json.RawMessage) (*LookupResponse, error) {
	args, err := splitArgs(raw, lookupArgOrder)
	if err != nil {
		return nil, err
	}
	paymentHashArg, err := optString(args, "payment_hash")
	if err != nil {
		return nil, err
	}

	var records []hostrpc.Record
	var paymentHashes []string

	if paymentHashArg != nil {
		hash, hexErr := engine.DecodeHex32(*paymentHashArg)
		if hexErr != nil {
			return nil, holderrors.InputError("payment_hash: %v", hexErr)
		}
		paymentHashHex := hex.EncodeToString(hash[:])
		rec, _, err := s.dsb.Get(paymentHashHex)
		if err != nil {
			if holderrors.IsNotFound(err) {
				return nil, holderrors.NotFoundError(paymentHashHex)
			}
			return nil, err
		}
		records = []hostrpc.Record{rec}
		paymentHashes = []string{paymentHashHex}
	} else {
		recs, _, err := s.dsb.ListAll()
		if err != nil {
			return nil, err
		}
		records = recs
		for _, r := range recs {
			paymentHashes = append(paymentHashes, r.PaymentHash)
		}
	}

	entries := make([]LookupEntry, 0, len(records))
	for i, rec := range records {
		entry, err := s.resolveLookupEntry(paymentHashes[i], rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return &LookupResponse{HoldInvoices: entries}, nil
}

func (s *Surface) resolveLookupEntry(paymentHashHex string, rec hostrpc.Record) (LookupEntry, error) {
	state, err := engine.ParseHoldState(rec.State)
	if err != nil {
		return LookupEntry{}, holderrors.Fatal("corrupt persisted state for %s: %v", paymentHashHex, err)
	}

	if state == engine.Open && rec.ExpiresAt <= time.Now().Unix() {
		rec.State = engine.Canceled.String()
		if err := s.dsb.ReplaceForce(paymentHashHex, rec); err != nil {
			return LookupEntry{}, err
		}
		return LookupEntry{PaymentHash: paymentHashHex, State: engine.Canceled.String()}, nil
	}

	entry := LookupEntry{PaymentHash: paymentHashHex, State: state.String()}
	if state == engine.Accepted {
		entry.HtlcExpiry = rec.HtlcExpiry
	}
	return entry, nil
}

// drainBarrier polls CIP every drainPollInterval until no live HTLC
// remains for paymentHashHex, or fails with DrainTimeout after
// drainTimeout (spec §4.7 settle/cancel, §5 cancellation & timeouts).
func (s *Surface) drainBarrier(paymentHashHex string) error {
	deadline := time.Now().Add(drainTimeout)
	for {
		live, err := s.cip.EnumerateLiveHtlcsFor(paymentHashHex)
		if err != nil {
			return err
		}
		if !live {
			return nil
		}
		if time.Now().After(deadline) {
			return holderrors.DrainTimeoutError(paymentHashHex)
		}
		time.Sleep(drainPollInterval)
	}
}

func toResponse(inv *engine.HoldInvoice) *InvoiceResponse {
	resp := &InvoiceResponse{
		Bolt11:        inv.Bolt11,
		PaymentHash:   hex.EncodeToString(inv.PaymentHash[:]),
		PaymentSecret: hex.EncodeToString(inv.PaymentSecret[:]),
		Description:   inv.Description,
		AmountMsat:    inv.AmountMsat,
		ExpiresAt:     inv.ExpiresAt,
		State:         inv.State.String(),
		PaidAt:        inv.PaidAt,
		HtlcExpiry:    inv.HtlcExpiry,
	}
	if inv.Preimage != nil {
		p := hex.EncodeToString(inv.Preimage[:])
		resp.Preimage = &p
	}
	if inv.DescriptionHash != nil {
		d := hex.EncodeToString(inv.DescriptionHash[:])
		resp.DescriptionHash = &d
	}
	return resp
}

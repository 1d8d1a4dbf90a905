package rpcserver

// Request/response types for the operator-facing gRPC pass-through (spec
// §6 Command Surface, exposed over gRPC in addition to the plugin
// command surface). These stand in for protoc-generated types: wire
// transcoding is explicitly out of scope (spec.md §1), so the server
// below pairs them with a JSON-over-gRPC-framing codec rather than real
// protobuf wire encoding.

type CreateHoldInvoiceRequest struct {
	AmountMsat             uint64   `json:"amount_msat"`
	Description            string   `json:"description"`
	Expiry                 uint64   `json:"expiry,omitempty"`
	PaymentHash            string   `json:"payment_hash,omitempty"`
	Preimage               string   `json:"preimage,omitempty"`
	CltvExpiry             uint32   `json:"cltv,omitempty"`
	DeschashOnly           bool     `json:"deschashonly,omitempty"`
	ExposePrivateChannels  []string `json:"exposeprivatechannels,omitempty"`
}

type HoldInvoiceResponse struct {
	Bolt11          string `json:"bolt11"`
	PaymentHash     string `json:"payment_hash"`
	PaymentSecret   string `json:"payment_secret"`
	Preimage        string `json:"preimage,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	AmountMsat      uint64 `json:"amount_msat"`
	ExpiresAt       int64  `json:"expires_at"`
	State           string `json:"state"`
	PaidAt          int64  `json:"paid_at,omitempty"`
	HtlcExpiry      uint32 `json:"htlc_expiry,omitempty"`
}

type SettleHoldInvoiceRequest struct {
	PaymentHash string `json:"payment_hash,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
}

type CancelHoldInvoiceRequest struct {
	PaymentHash string `json:"payment_hash"`
}

type HoldStateResponse struct {
	State string `json:"state"`
}

type LookupHoldInvoiceRequest struct {
	PaymentHash string `json:"payment_hash,omitempty"`
}

type LookupEntry struct {
	PaymentHash string `json:"payment_hash"`
	State       string `json:"state"`
	HtlcExpiry  uint32 `json:"htlc_expiry,omitempty"`
}

type LookupHoldInvoiceResponse struct {
	HoldInvoices []LookupEntry `json:"holdinvoices"`
}

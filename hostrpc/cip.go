package hostrpc

import (
	"strings"
)

// CIP is the Channel/Invoice Probe of spec §4.2: typed wrappers over the
// host's listpeerchannels/decode/listconfigs/invoice/getinfo RPC methods,
// used only at boundaries (invoice creation, the settle/cancel drain
// barriers, autoclean, the startup block height).
type CIP struct {
	client *Client
}

// NewCIP constructs a Channel/Invoice Probe.
func NewCIP(client *Client) *CIP {
	return &CIP{client: client}
}

type peerChannel struct {
	State          string `json:"state"`
	Htlcs          []htlcEntry `json:"htlcs"`
}

type htlcEntry struct {
	PaymentHash string `json:"payment_hash"`
	Direction   string `json:"direction"`
}

type listPeerChannelsResult struct {
	Channels []peerChannel `json:"channels"`
}

// liveStates are the channel states spec §4.2 considers for the drain
// barrier; channels in any other state are skipped.
var liveStates = map[string]bool{
	"CHANNELD_NORMAL":   true,
	"CHANNELD_AWAITING_SPLICE": true,
}

// EnumerateLiveHtlcsFor lists every (scid, htlc_id)-independent live HTLC
// currently held in a NORMAL or AWAITING_SPLICE channel whose payment_hash
// matches paymentHash (case-insensitive hex compare), spec §4.2. It
// returns only whether any such HTLC remains, which is all the drain
// barrier (spec §4.7) needs.
func (c *CIP) EnumerateLiveHtlcsFor(paymentHash string) (bool, error) {
	var result listPeerChannelsResult
	err := c.client.callDeduped("listpeerchannels", "listpeerchannels", struct{}{}, &result)
	if err != nil {
		return false, err
	}

	want := strings.ToLower(paymentHash)
	for _, ch := range result.Channels {
		if !liveStates[ch.State] {
			continue
		}
		for _, h := range ch.Htlcs {
			if strings.ToLower(h.PaymentHash) == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// DecodedBolt11 is the subset of the host's `decode` response the engine
// needs (spec §4.2).
type DecodedBolt11 struct {
	PaymentHash     string
	PaymentSecret   string
	Description     string
	DescriptionHash string
	CreatedAt       int64
	Expiry          int64
	AmountMsat      uint64
	MinFinalCltvExpiry uint32
}

type decodeResult struct {
	PaymentHash        string `json:"payment_hash"`
	PaymentSecret      string `json:"payment_secret"`
	Description        string `json:"description"`
	DescriptionHash    string `json:"description_hash"`
	CreatedAt          int64  `json:"created_at"`
	Expiry             int64  `json:"expiry"`
	AmountMsat         uint64 `json:"amount_msat"`
	MinFinalCltvExpiry uint32 `json:"min_final_cltv_expiry"`
}

// DecodeBolt11 decodes a BOLT-11 invoice string via the host's `decode`
// RPC method. BOLT-11 parsing itself is an external collaborator (spec
// §1 Out of scope); this is the typed call boundary.
func (c *CIP) DecodeBolt11(bolt11 string) (DecodedBolt11, error) {
	var result decodeResult
	err := c.client.call("decode", struct {
		String string `json:"string"`
	}{String: bolt11}, &result)
	if err != nil {
		return DecodedBolt11{}, err
	}
	return DecodedBolt11{
		PaymentHash:        result.PaymentHash,
		PaymentSecret:      result.PaymentSecret,
		Description:        result.Description,
		DescriptionHash:    result.DescriptionHash,
		CreatedAt:          result.CreatedAt,
		Expiry:             result.Expiry,
		AmountMsat:         result.AmountMsat,
		MinFinalCltvExpiry: result.MinFinalCltvExpiry,
	}, nil
}

// CreateInvoiceRequest is the subset of the host's `invoice` RPC method
// the Command Surface's create operation needs. BOLT-11 assembly and
// signing happens on the host side; this is the typed call boundary
// (spec §4.7 create: "Assemble and sign a BOLT-11 invoice (via external
// collaborator)").
type CreateInvoiceRequest struct {
	AmountMsat            uint64
	Label                 string
	Description           string
	DescriptionHash       *string
	Expiry                uint64
	Preimage              *string
	Cltv                  uint32
	DeschashOnly          bool
	ExposePrivateChannels []string
}

// CreateInvoiceResult is the subset of the `invoice` RPC response needed
// to populate a new HoldInvoice.
type CreateInvoiceResult struct {
	Bolt11        string
	PaymentHash   string
	PaymentSecret string
	ExpiresAt     int64
}

type invoiceParams struct {
	AmountMsat            interface{} `json:"amount_msat"`
	Label                 string      `json:"label"`
	Description           string      `json:"description"`
	Expiry                *uint64     `json:"expiry,omitempty"`
	Preimage              *string     `json:"preimage,omitempty"`
	Cltv                  *uint32     `json:"cltv,omitempty"`
	Deschashonly          *bool       `json:"deschashonly,omitempty"`
	Exposeprivatechannels []string    `json:"exposeprivatechannels,omitempty"`
}

type invoiceResult struct {
	Bolt11        string `json:"bolt11"`
	PaymentHash   string `json:"payment_hash"`
	PaymentSecret string `json:"payment_secret"`
	ExpiresAt     int64  `json:"expires_at"`
}

// CreateInvoice calls the host's `invoice` RPC method to assemble and
// sign a BOLT-11 invoice. When req.DeschashOnly is set, Description is
// sent with deschashonly so the host hashes it rather than embedding it
// verbatim (spec §4.7's `deschashonly` argument). req.DescriptionHash is
// not sent to the host.
func (c *CIP) CreateInvoice(req CreateInvoiceRequest) (CreateInvoiceResult, error) {
	params := invoiceParams{
		AmountMsat:            req.AmountMsat,
		Label:                 req.Label,
		Description:           req.Description,
		Exposeprivatechannels: req.ExposePrivateChannels,
	}
	if req.Expiry > 0 {
		e := req.Expiry
		params.Expiry = &e
	}
	if req.Preimage != nil {
		params.Preimage = req.Preimage
	}
	if req.Cltv > 0 {
		cltv := req.Cltv
		params.Cltv = &cltv
	}
	if req.DeschashOnly {
		d := true
		params.Deschashonly = &d
	}

	var result invoiceResult
	if err := c.client.call("invoice", params, &result); err != nil {
		return CreateInvoiceResult{}, err
	}
	return CreateInvoiceResult{
		Bolt11:        result.Bolt11,
		PaymentHash:   result.PaymentHash,
		PaymentSecret: result.PaymentSecret,
		ExpiresAt:     result.ExpiresAt,
	}, nil
}

// AutocleanConfig is the subset of `listconfigs` relevant to the
// Autoclean Task (spec §4.8). CycleSeconds, PaidAgeSeconds and
// ExpiredAgeSeconds of zero mean "feature disabled" for the latter two.
type AutocleanConfig struct {
	CycleSeconds      uint64
	PaidAgeSeconds    uint64
	ExpiredAgeSeconds uint64
}

type listConfigsResult struct {
	Configs struct {
		AutocleanCycleSeconds struct {
			Value uint64 `json:"value_int"`
		} `json:"autoclean-cycle"`
		AutocleanFailedpayAge struct {
			Value uint64 `json:"value_int"`
		} `json:"autoclean-paidinvoices-age"`
		AutocleanExpiredinvoicesAge struct {
			Value uint64 `json:"value_int"`
		} `json:"autoclean-expiredinvoices-age"`
	} `json:"configs"`
}

// ListAutocleanConfigs reads the host's autoclean-related configs (spec
// §4.2).
func (c *CIP) ListAutocleanConfigs() (AutocleanConfig, error) {
	var result listConfigsResult
	err := c.client.call("listconfigs", struct{}{}, &result)
	if err != nil {
		return AutocleanConfig{}, err
	}
	return AutocleanConfig{
		CycleSeconds:      result.Configs.AutocleanCycleSeconds.Value,
		PaidAgeSeconds:    result.Configs.AutocleanFailedpayAge.Value,
		ExpiredAgeSeconds: result.Configs.AutocleanExpiredinvoicesAge.Value,
	}, nil
}

type getInfoResult struct {
	BlockHeight uint32 `json:"blockheight"`
}

// BlockHeight reads the host's current block height via `getinfo`, used
// once at plugin start to seed BlockHeightTracker before the first
// htlc_accepted hook can arrive (spec §9 supplemented feature).
func (c *CIP) BlockHeight() (uint32, error) {
	var result getInfoResult
	if err := c.client.call("getinfo", struct{}{}, &result); err != nil {
		return 0, err
	}
	return result.BlockHeight, nil
}

package plugin

import "github.com/elementsproject/holdinvoice/config"

// manifestOption describes one entry of getmanifest's "options" array, the
// shape the host expects for declaring a plugin config option.
type manifestOption struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description"`
}

type manifestRPCMethod struct {
	Name        string `json:"name"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

type manifestHook struct {
	Name string `json:"name"`
}

type manifestResponse struct {
	Options       []manifestOption    `json:"options"`
	RPCMethods    []manifestRPCMethod `json:"rpcmethods"`
	Subscriptions []string            `json:"subscriptions"`
	Hooks         []manifestHook      `json:"hooks"`
	Dynamic       bool                `json:"dynamic"`
}

// buildManifest declares the option/rpcmethod/hook/subscription surface of
// spec §6. Every option is optional at parse time (validated once by
// config.Config.Validate after init).
func buildManifest() manifestResponse {
	return manifestResponse{
		Options: []manifestOption{
			{
				Name:        "holdinvoice-cancel-before-htlc-expiry",
				Type:        "int",
				Default:     int(config.DefaultCancelBeforeHtlcBlocks),
				Description: "soft-expiry cushion, in blocks, before a held HTLC's cltv_expiry",
			},
			{
				Name:        "holdinvoice-cancel-before-invoice-expiry",
				Type:        "int",
				Description: "soft-expiry cushion, in seconds, before a hold invoice's BOLT-11 expiry; setting this enables the invoice-time expiry policy",
			},
			{
				Name:        "grpc-hold-port",
				Type:        "int",
				Description: "port for the operator-facing gRPC pass-through; unset disables it",
			},
			{
				Name:        "hold-startup-lock",
				Type:        "int",
				Default:     int(config.DefaultStartupLockSeconds),
				Description: "seconds after plugin start during which an expired OPEN invoice is not auto-canceled, so replayed HTLCs can re-register",
			},
		},
		RPCMethods: []manifestRPCMethod{
			{
				Name:        "holdinvoice",
				Usage:       "amount_msat description [expiry] [payment_hash] [preimage] [cltv] [deschashonly] [exposeprivatechannels]",
				Description: "create a new invoice and hold payment of it",
			},
			{
				Name:        "holdinvoicesettle",
				Usage:       "[payment_hash] [preimage]",
				Description: "settle the htlcs held against a hold invoice",
			},
			{
				Name:        "holdinvoicecancel",
				Usage:       "payment_hash",
				Description: "cancel the htlcs held against a hold invoice",
			},
			{
				Name:        "holdinvoicelookup",
				Usage:       "[payment_hash]",
				Description: "look up the state of one or all hold invoices",
			},
		},
		Subscriptions: []string{"block_added"},
		Hooks:         []manifestHook{{Name: "htlc_accepted"}},
		Dynamic:       false,
	}
}

// Package plugin wires the engine, command and autoclean packages to the
// host's JSON-RPC-over-stdio plugin protocol (spec §6/§9): getmanifest,
// init, the htlc_accepted hook, the block_added subscription, the
// hold_invoice_accepted notification, and the four operator rpcmethods.
package plugin

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/elementsproject/holdinvoice/autoclean"
	"github.com/elementsproject/holdinvoice/command"
	"github.com/elementsproject/holdinvoice/config"
	"github.com/elementsproject/holdinvoice/engine"
	"github.com/elementsproject/holdinvoice/holderrors"
	"github.com/elementsproject/holdinvoice/hostrpc"
)

// pluginName is the first component of every datastore key this plugin
// owns (spec §6).
const pluginName = "holdinvoice"

// Plugin holds every collaborator wired together at init time. Before
// init completes, only transport and cfg are valid.
type Plugin struct {
	transport *stdioTransport
	cfg       *config.Config

	client    *hostrpc.Client
	dsb       *hostrpc.DSB
	cip       *hostrpc.CIP
	registry  *engine.Registry
	bht       *engine.BlockHeightTracker
	loop      *engine.HoldLoop
	hooks     *engine.HookHandler
	surface   *command.Surface
	autoclean *autoclean.Task

	stopAutoclean chan struct{}

	// OnInitDone, if set before Run, is invoked once handleInit has
	// finished wiring every collaborator (or failed to). main uses this
	// to start the operator gRPC surface, which needs the *command.Surface
	// and *config.Config that only exist after init completes.
	OnInitDone func(*Plugin, error)
}

// New constructs a Plugin speaking JSON-RPC over the process's own
// stdin/stdout, the way the host always launches a plugin.
func New() *Plugin {
	return &Plugin{
		transport: newStdioTransport(os.Stdin, os.Stdout),
		cfg:       config.Default(),
	}
}

// Surface returns the Command Surface wired during init, or nil before
// init completes.
func (p *Plugin) Surface() *command.Surface {
	return p.surface
}

// Config returns the active configuration. Before init completes this is
// config.Default().
func (p *Plugin) Config() *config.Config {
	return p.cfg
}

// Run reads and dispatches messages until stdin closes (the host has
// exited the plugin) or a read error occurs.
func (p *Plugin) Run() error {
	for {
		msg, err := p.transport.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		p.dispatch(msg)
	}
}

// Shutdown releases the autoclean goroutine and the host rpc connection.
// Any Hold Loop goroutines still in flight are abandoned, per spec §5:
// "any in-flight loops are abandoned; on next hook replay, state is
// reconstructed from DSB."
func (p *Plugin) Shutdown() {
	if p.stopAutoclean != nil {
		close(p.stopAutoclean)
	}
	if p.client != nil {
		p.client.Close()
	}
}

// dispatch routes one incoming message by method name. Hook and command
// handling run in their own goroutine since both may block for seconds
// (a Hold Loop iteration, a drain barrier) and must never stall the
// stdin read loop that other in-flight loops depend on for block_added
// wakes (spec §5: "Any number of Hold Loops run concurrently").
func (p *Plugin) dispatch(msg rpcMessage) {
	switch msg.Method {
	case "getmanifest":
		p.handleGetManifest(msg)
	case "init":
		p.handleInit(msg)
	case "htlc_accepted":
		go p.handleHtlcAccepted(msg)
	case "block_added":
		p.handleBlockAdded(msg)
	case "holdinvoice":
		go p.handleCommand(msg, func(raw json.RawMessage) (interface{}, error) { return p.surface.Create(raw) })
	case "holdinvoicesettle":
		go p.handleCommand(msg, func(raw json.RawMessage) (interface{}, error) { return p.surface.Settle(raw) })
	case "holdinvoicecancel":
		go p.handleCommand(msg, func(raw json.RawMessage) (interface{}, error) { return p.surface.Cancel(raw) })
	case "holdinvoicelookup":
		go p.handleCommand(msg, func(raw json.RawMessage) (interface{}, error) { return p.surface.Lookup(raw) })
	default:
		if !msg.isNotification() {
			if err := p.transport.writeError(msg.ID, -32601, fmt.Sprintf("unknown method %q", msg.Method)); err != nil {
				log.Errorf("plugin: write error response failed: %v", err)
			}
		}
	}
}

func (p *Plugin) handleGetManifest(msg rpcMessage) {
	if err := p.transport.writeResult(msg.ID, buildManifest()); err != nil {
		log.Errorf("plugin: write getmanifest response failed: %v", err)
	}
}

// initParams is the subset of `init`'s params this plugin reads: the
// options it declared in getmanifest, and the host-supplied rpc socket
// location.
type initParams struct {
	Options       map[string]json.RawMessage `json:"options"`
	Configuration struct {
		LightningDir string `json:"lightning-dir"`
		RPCFile      string `json:"rpc-file"`
		Network      string `json:"network"`
	} `json:"configuration"`
}

func parseOptInt(raw json.RawMessage) *int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

// handleInit builds every collaborator from the host-supplied rpc socket
// path and declared option values, then launches the Autoclean Task
// (spec §4.8 runs for the plugin's whole lifetime, started once at init).
func (p *Plugin) handleInit(msg rpcMessage) {
	var params initParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			p.transport.writeError(msg.ID, -32602, fmt.Sprintf("invalid init params: %v", err))
			return
		}
	}

	cfg := config.Default()
	if v := parseOptInt(params.Options["holdinvoice-cancel-before-htlc-expiry"]); v != nil && *v > 0 {
		cfg.CancelBeforeHtlcBlocks = uint32(*v)
	}
	if v := parseOptInt(params.Options["holdinvoice-cancel-before-invoice-expiry"]); v != nil && *v > 0 {
		u := uint64(*v)
		cfg.CancelBeforeInvoiceSeconds = &u
	}
	if v := parseOptInt(params.Options["grpc-hold-port"]); v != nil && *v >= 0 {
		cfg.GRPCHoldPort = uint16(*v)
	}
	if v := parseOptInt(params.Options["hold-startup-lock"]); v != nil && *v > 0 {
		cfg.StartupLockSeconds = uint64(*v)
	}
	if err := cfg.Validate(); err != nil {
		p.transport.writeError(msg.ID, -32602, err.Error())
		if p.OnInitDone != nil {
			p.OnInitDone(p, err)
		}
		return
	}
	p.cfg = cfg

	sockPath := filepath.Join(params.Configuration.LightningDir, params.Configuration.RPCFile)
	client, err := hostrpc.NewClient(sockPath)
	if err != nil {
		log.Errorf("plugin: connect to host rpc at %s failed: %v", sockPath, err)
		p.transport.writeError(msg.ID, -32603, fmt.Sprintf("connect to host rpc: %v", err))
		if p.OnInitDone != nil {
			p.OnInitDone(p, err)
		}
		return
	}
	p.client = client
	p.dsb = hostrpc.NewDSB(client, pluginName)
	p.cip = hostrpc.NewCIP(client)

	startHeight, err := p.cip.BlockHeight()
	if err != nil {
		log.Errorf("plugin: getinfo failed, starting block height tracker at 0: %v", err)
	}
	p.bht = engine.NewBlockHeightTracker(startHeight)
	p.registry = engine.NewRegistry()
	p.loop = engine.NewHoldLoop(p.registry, p.dsb, p.bht, p.cfg, p.notifyAccepted, time.Now())
	p.hooks = engine.NewHookHandler(p.registry, p.dsb, p.bht, p.loop)
	p.surface = command.NewSurface(p.registry, p.dsb, p.cip, p.cfg)

	p.autoclean = autoclean.NewTask(p.dsb, p.cip)
	p.stopAutoclean = make(chan struct{})
	go p.autoclean.Run(p.stopAutoclean)

	if err := p.transport.writeResult(msg.ID, struct{}{}); err != nil {
		log.Errorf("plugin: write init response failed: %v", err)
	}

	if p.OnInitDone != nil {
		p.OnInitDone(p, nil)
	}
}

// notifyAccepted emits hold_invoice_accepted (spec §6), wired into
// HoldLoop as its NotifyAcceptedFunc.
func (p *Plugin) notifyAccepted(paymentHash [32]byte, htlcExpiry uint32) {
	params := struct {
		PaymentHash string `json:"payment_hash"`
		HtlcExpiry  uint32 `json:"htlc_expiry"`
	}{
		PaymentHash: hex.EncodeToString(paymentHash[:]),
		HtlcExpiry:  htlcExpiry,
	}
	if err := p.transport.writeNotification("hold_invoice_accepted", params); err != nil {
		log.Errorf("plugin: emit hold_invoice_accepted failed: %v", err)
	}
}

// handleCommand runs one Command Surface operation and translates its
// result or error into a JSON-RPC response.
func (p *Plugin) handleCommand(msg rpcMessage, fn func(json.RawMessage) (interface{}, error)) {
	result, err := fn(msg.Params)
	if err != nil {
		code, message := translateCommandError(err)
		if writeErr := p.transport.writeError(msg.ID, code, message); writeErr != nil {
			log.Errorf("plugin: write error response failed: %v", writeErr)
		}
		return
	}
	if err := p.transport.writeResult(msg.ID, result); err != nil {
		log.Errorf("plugin: write command response failed: %v", err)
	}
}

// translateCommandError maps the holderrors taxonomy (spec §7) onto a
// JSON-RPC error code; every class surfaced by the Command Surface ends
// up as either -32602 (bad input) or -32603 (everything else: NotFound,
// WrongState, Transport, DrainTimeout, Fatal all read as "this command
// could not be carried out" to a JSON-RPC caller).
func translateCommandError(err error) (int, string) {
	if holderrors.IsInput(err) {
		return -32602, err.Error()
	}
	return -32603, err.Error()
}

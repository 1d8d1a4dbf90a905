package rpcserver

import (
	"context"
	"encoding/json"

	"github.com/elementsproject/holdinvoice/command"
)

// Server implements the operator-facing gRPC pass-through by re-encoding
// each typed request into the same keyed-JSON shape the plugin command
// surface accepts (spec §9 "dynamic argument shapes"), so both entry
// points share one implementation of spec §4.7.
type Server struct {
	surface *command.Surface
}

// NewServer wires the gRPC pass-through to the Command Surface it fronts.
func NewServer(surface *command.Surface) *Server {
	return &Server{surface: surface}
}

func (s *Server) CreateHoldInvoice(ctx context.Context, req *CreateHoldInvoiceRequest) (*HoldInvoiceResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	inv, err := s.surface.Create(raw)
	if err != nil {
		return nil, err
	}
	return convertInvoice(inv), nil
}

func (s *Server) SettleHoldInvoice(ctx context.Context, req *SettleHoldInvoiceRequest) (*HoldStateResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	st, err := s.surface.Settle(raw)
	if err != nil {
		return nil, err
	}
	return &HoldStateResponse{State: st.State}, nil
}

func (s *Server) CancelHoldInvoice(ctx context.Context, req *CancelHoldInvoiceRequest) (*HoldStateResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	st, err := s.surface.Cancel(raw)
	if err != nil {
		return nil, err
	}
	return &HoldStateResponse{State: st.State}, nil
}

func (s *Server) LookupHoldInvoice(ctx context.Context, req *LookupHoldInvoiceRequest) (*LookupHoldInvoiceResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	res, err := s.surface.Lookup(raw)
	if err != nil {
		return nil, err
	}
	entries := make([]LookupEntry, 0, len(res.HoldInvoices))
	for _, e := range res.HoldInvoices {
		entries = append(entries, LookupEntry{PaymentHash: e.PaymentHash, State: e.State, HtlcExpiry: e.HtlcExpiry})
	}
	return &LookupHoldInvoiceResponse{HoldInvoices: entries}, nil
}

func convertInvoice(inv *command.InvoiceResponse) *HoldInvoiceResponse {
	resp := &HoldInvoiceResponse{
		Bolt11:        inv.Bolt11,
		PaymentHash:   inv.PaymentHash,
		PaymentSecret: inv.PaymentSecret,
		Description:   inv.Description,
		AmountMsat:    inv.AmountMsat,
		ExpiresAt:     inv.ExpiresAt,
		State:         inv.State,
		PaidAt:        inv.PaidAt,
		HtlcExpiry:    inv.HtlcExpiry,
	}
	if inv.Preimage != nil {
		resp.Preimage = *inv.Preimage
	}
	if inv.DescriptionHash != nil {
		resp.DescriptionHash = *inv.DescriptionHash
	}
	return resp
}

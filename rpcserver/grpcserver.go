package rpcserver

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// serviceDesc is the hand-declared equivalent of what protoc-gen-go-grpc
// would generate from a holdinvoice.proto: one ServiceDesc with four
// unary methods, grounded on the teacher's lnrpc.RegisterLightningServer
// registration shape.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "holdinvoice.HoldInvoice",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateHoldInvoice", Handler: createHoldInvoiceHandler},
		{MethodName: "SettleHoldInvoice", Handler: settleHoldInvoiceHandler},
		{MethodName: "CancelHoldInvoice", Handler: cancelHoldInvoiceHandler},
		{MethodName: "LookupHoldInvoice", Handler: lookupHoldInvoiceHandler},
	},
	Metadata: "holdinvoice.proto",
}

func createHoldInvoiceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateHoldInvoiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).CreateHoldInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/holdinvoice.HoldInvoice/CreateHoldInvoice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).CreateHoldInvoice(ctx, req.(*CreateHoldInvoiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func settleHoldInvoiceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SettleHoldInvoiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).SettleHoldInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/holdinvoice.HoldInvoice/SettleHoldInvoice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).SettleHoldInvoice(ctx, req.(*SettleHoldInvoiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelHoldInvoiceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelHoldInvoiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).CancelHoldInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/holdinvoice.HoldInvoice/CancelHoldInvoice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).CancelHoldInvoice(ctx, req.(*CancelHoldInvoiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lookupHoldInvoiceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LookupHoldInvoiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).LookupHoldInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/holdinvoice.HoldInvoice/LookupHoldInvoice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).LookupHoldInvoice(ctx, req.(*LookupHoldInvoiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// authToken, when non-empty, gates every RPC behind a bearer token
// carried in the "macaroon" metadata key — a placeholder for the full
// macaroon-bakery root-key-store integration the teacher's rpcserver.go
// alludes to; see DESIGN.md for why that full integration isn't wired
// here (the teacher's own macaroon service files were not retrieved).
func authInterceptor(authToken string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if authToken == "" {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get("macaroon")
		if len(vals) != 1 || vals[0] != authToken {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing macaroon")
		}
		return handler(ctx, req)
	}
}

// Listener wraps the running grpc.Server so main can shut it down
// cleanly at process exit.
type Listener struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// Start binds port and serves the operator gRPC surface in its own
// goroutine. port zero disables the surface entirely (spec §6
// grpc-hold-port: "optional").
func Start(port uint16, surface *Server, authToken string) (*Listener, error) {
	if port == 0 {
		return nil, nil
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on grpc-hold-port %d: %w", port, err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(authInterceptor(authToken)))
	grpcServer.RegisterService(&serviceDesc, surface)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("rpcserver: serve failed: %v", err)
		}
	}()

	return &Listener{grpcServer: grpcServer, listener: lis}, nil
}

// Stop gracefully shuts down the gRPC server, if one was started.
func (l *Listener) Stop() {
	if l == nil {
		return
	}
	l.grpcServer.GracefulStop()
}

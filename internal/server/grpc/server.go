// Package grpcserver exposes relying-party proof verification over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/agentproof/internal/convert"
	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/limiter"
	"github.com/and161185/agentproof/internal/model"
	"github.com/and161185/agentproof/internal/service"
)

// ServiceName and VerifyProofMethod identify the verification RPC. Request and response
// are google.protobuf.Struct: {"token": "..."} in, the verification body out.
const (
	ServiceName       = "agentproof.v1.Verifier"
	VerifyProofMethod = "/" + ServiceName + "/VerifyProof"
)

// VerifierServer is the server API of agentproof.v1.Verifier.
type VerifierServer interface {
	VerifyProof(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// VerifierServiceDesc describes agentproof.v1.Verifier for grpc.Server.RegisterService.
var VerifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VerifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "VerifyProof", Handler: verifyProofHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentproof/v1/verifier.proto",
}

// RegisterVerifierServer registers srv on s.
func RegisterVerifierServer(s grpc.ServiceRegistrar, srv VerifierServer) {
	s.RegisterService(&VerifierServiceDesc, srv)
}

func verifyProofHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VerifierServer).VerifyProof(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyProofMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VerifierServer).VerifyProof(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server wires the platform gate into gRPC handlers.
type Server struct {
	gate service.PlatformGate
	log  *zap.Logger
}

var _ VerifierServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(gate service.PlatformGate, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{gate: gate, log: log}
}

// VerifyProof checks a proof token for the calling platform.
func (s *Server) VerifyProof(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tok, err := convert.TokenFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var v *model.Verification
	if p, ok := PlatformFromCtx(ctx); ok {
		v, err = s.gate.VerifyFor(ctx, p, tok)
	} else {
		v, err = s.gate.VerifyToken(ctx, apiKeyFromMD(ctx), tok)
	}
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	out, err := convert.ToStructVerification(v)
	if err != nil {
		s.log.Error("encode verification", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal")
	}
	return out, nil
}

// toStatus maps service errors to gRPC codes. Rate-limit denials carry a retry-after header.
func toStatus(ctx context.Context, err error) error {
	var d *limiter.Denial
	switch {
	case errors.As(err, &d):
		_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", strconv.Itoa(int(d.Decision.RetryAfter.Seconds()))))
		return status.Error(codes.ResourceExhausted, d.Decision.Reason)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid api key")
	case errors.Is(err, errs.ErrQuotaExceeded):
		return status.Error(codes.ResourceExhausted, "monthly quota exceeded")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	}
	return status.Errorf(codes.Internal, "verify: %v", err)
}

// VerifyProof calls agentproof.v1.Verifier/VerifyProof on cc with apiKey in metadata.
func VerifyProof(ctx context.Context, cc grpc.ClientConnInterface, apiKey, token string) (*model.Verification, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, APIKeyHeader, apiKey)
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, VerifyProofMethod, convert.TokenRequest(token), out); err != nil {
		return nil, err
	}
	return convert.FromStructVerification(out)
}

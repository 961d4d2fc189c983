// Package codec connects the learned encoder slot to an out-of-process
// estimator over gRPC. Messages are google.protobuf.Struct values keyed by
// feature name, so no generated stubs are needed on either side.
package codec

import (
	"context"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/boundary-state/internal/encoder"
)

// #region constants
const (
	// ServiceName is the fully-qualified gRPC service.
	ServiceName = "boundarystate.estimator.v1.Estimator"

	estimateMethod = "/" + ServiceName + "/Estimate"

	// DefaultTimeout bounds one Estimate call.
	DefaultTimeout = 250 * time.Millisecond
)

// #endregion constants

// #region client-struct
// EstimatorClient is an encoder.Estimator backed by a remote service.
type EstimatorClient struct {
	conn    *grpc.ClientConn
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

// #endregion client-struct

// #region constructor
// NewEstimatorClient connects to the estimator service at addr.
func NewEstimatorClient(addr string, timeout time.Duration) (*EstimatorClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c := NewEstimatorClientWithConn(conn, timeout)
	c.conn = conn
	return c, nil
}

// NewEstimatorClientWithConn uses an existing connection, e.g. an in-memory one in tests.
func NewEstimatorClientWithConn(cc grpc.ClientConnInterface, timeout time.Duration) *EstimatorClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EstimatorClient{cc: cc, timeout: timeout}
}

// #endregion constructor

// #region close
// Close shuts down a connection opened by NewEstimatorClient.
func (c *EstimatorClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region estimate
func (c *EstimatorClient) Name() string { return "remote" }

// Estimate calls the service with the client's timeout.
func (c *EstimatorClient) Estimate(f encoder.Features) (encoder.Estimate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.EstimateContext(ctx, f)
}

// EstimateContext calls the service under ctx.
func (c *EstimatorClient) EstimateContext(ctx context.Context, f encoder.Features) (encoder.Estimate, error) {
	req, err := featuresToStruct(f)
	if err != nil {
		return encoder.Estimate{}, fmt.Errorf("encode features: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, estimateMethod, req, resp); err != nil {
		return encoder.Estimate{}, fmt.Errorf("estimate rpc: %w", err)
	}
	return structToEstimate(resp)
}

// #endregion estimate

// #region server

// EstimatorServer is the server side of the Estimate RPC.
type EstimatorServer interface {
	Estimate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EstimatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Estimate", Handler: estimateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "boundarystate/estimator/v1/estimator.proto",
}

// RegisterEstimatorServer attaches srv to a gRPC server.
func RegisterEstimatorServer(s grpc.ServiceRegistrar, srv EstimatorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func estimateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EstimatorServer).Estimate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: estimateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EstimatorServer).Estimate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// estimatorService serves an in-process encoder.Estimator over gRPC.
type estimatorService struct {
	est encoder.Estimator
}

// NewEstimatorService exposes est as an EstimatorServer.
func NewEstimatorService(est encoder.Estimator) EstimatorServer {
	return &estimatorService{est: est}
}

func (s *estimatorService) Estimate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f, err := structToFeatures(in)
	if err != nil {
		return nil, err
	}
	out, err := s.est.Estimate(f)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{"force": out.Force, "delta": out.Delta}
	if !math.IsNaN(out.ForceUncertainty) {
		fields["force_uncertainty"] = out.ForceUncertainty
	}
	return structpb.NewStruct(fields)
}

// #endregion server

// #region wire
func featuresToStruct(f encoder.Features) (*structpb.Struct, error) {
	vals := f.Values()
	fields := make(map[string]any, len(vals))
	for i, name := range encoder.FeatureNames {
		fields[name] = vals[i]
	}
	return structpb.NewStruct(fields)
}

func structToFeatures(s *structpb.Struct) (encoder.Features, error) {
	vals := make([]float64, len(encoder.FeatureNames))
	for i, name := range encoder.FeatureNames {
		v, ok := number(s, name)
		if !ok {
			return encoder.Features{}, fmt.Errorf("feature %q missing", name)
		}
		vals[i] = v
	}
	return encoder.Features{
		Force:            vals[0],
		ChannelPos:       vals[1],
		Delta:            vals[2],
		HoldTime:         vals[3],
		ForceUncertainty: vals[4],
		BodyRatio:        vals[5],
		Return:           vals[6],
	}, nil
}

// structToEstimate requires force and delta. A missing force_uncertainty is
// reported as NaN and left for the output-validity check to reject.
func structToEstimate(s *structpb.Struct) (encoder.Estimate, error) {
	force, ok := number(s, "force")
	if !ok {
		return encoder.Estimate{}, fmt.Errorf("estimate response missing force")
	}
	delta, ok := number(s, "delta")
	if !ok {
		return encoder.Estimate{}, fmt.Errorf("estimate response missing delta")
	}
	unc, ok := number(s, "force_uncertainty")
	if !ok {
		unc = math.NaN()
	}
	return encoder.Estimate{Force: force, Delta: delta, ForceUncertainty: unc}, nil
}

func number(s *structpb.Struct, key string) (float64, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

// #endregion wire

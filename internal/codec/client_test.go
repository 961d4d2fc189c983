package codec

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/encoder"
)

// #region harness

type funcServer func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func (f funcServer) Estimate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return f(ctx, in)
}

// startServer serves srv on an in-memory listener and returns a connected client.
func startServer(t *testing.T, srv EstimatorServer, timeout time.Duration) *EstimatorClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterEstimatorServer(s, srv)
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		s.Stop()
	})
	return NewEstimatorClientWithConn(conn, timeout)
}

func encoderCandle(i int, open, high, low, close float64) candle.Candle {
	return candle.Candle{Open: open, High: high, Low: low, Close: close, CloseTime: candle.Timestamp(60_000 * (i + 1))}
}

// #endregion harness

func TestEstimate_RoundTripThroughService(t *testing.T) {
	client := startServer(t, NewEstimatorService(encoder.IdentityEstimator()), time.Second)

	f := encoder.Features{Force: 2.5, ChannelPos: 0.95, Delta: 1.2, HoldTime: 6, ForceUncertainty: 0.1, BodyRatio: 0.8, Return: 0.01}
	got, err := client.Estimate(f)
	require.NoError(t, err)

	assert.Equal(t, 2.5, got.Force)
	assert.Equal(t, 1.2, got.Delta)
	assert.Equal(t, 0.1, got.ForceUncertainty)
}

func TestEstimate_ServerSeesAllFeatures(t *testing.T) {
	var seen *structpb.Struct
	client := startServer(t, funcServer(func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		seen = in
		return structpb.NewStruct(map[string]any{"force": 1.0, "delta": 0.0, "force_uncertainty": 0.2})
	}), time.Second)

	_, err := client.Estimate(encoder.Features{HoldTime: 9})
	require.NoError(t, err)
	require.NotNil(t, seen)
	for _, name := range encoder.FeatureNames {
		assert.Contains(t, seen.GetFields(), name)
	}
	assert.Equal(t, 9.0, seen.GetFields()["hold_time"].GetNumberValue())
}

func TestEstimate_MissingUncertaintyIsNaN(t *testing.T) {
	client := startServer(t, funcServer(func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"force": 1.0, "delta": 0.5})
	}), time.Second)

	got, err := client.Estimate(encoder.Features{})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.ForceUncertainty))
}

func TestEstimate_MissingForceIsError(t *testing.T) {
	client := startServer(t, funcServer(func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"delta": 0.5})
	}), time.Second)

	_, err := client.Estimate(encoder.Features{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing force")
}

func TestEstimate_ServerError(t *testing.T) {
	client := startServer(t, funcServer(func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return nil, errors.New("model not loaded")
	}), time.Second)

	_, err := client.Estimate(encoder.Features{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "estimate rpc")
}

func TestEstimate_Timeout(t *testing.T) {
	client := startServer(t, funcServer(func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 20*time.Millisecond)

	_, err := client.Estimate(encoder.Features{})
	require.Error(t, err)
}

func TestLearnedEncoderOverRemoteEstimator(t *testing.T) {
	client := startServer(t, NewEstimatorService(encoder.IdentityEstimator()), time.Second)
	learned := encoder.NewLearnedEncoder(encoder.DefaultConfig(), client, encoder.DefaultRuleWeight, nil)
	rule := encoder.NewRuleEncoder(encoder.DefaultConfig())

	for i := 0; i < 30; i++ {
		o := 100 + float64(i%7)
		c := encoderCandle(i, o, o+1, o-0.5, o+0.6)
		assert.Equal(t, rule.Update(c), learned.Update(c), "bar %d", i)
	}
	assert.Zero(t, learned.Failures())
}

func TestNewEstimatorClient_LazyConnect(t *testing.T) {
	c, err := NewEstimatorClient("localhost:0", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.NoError(t, c.Close())
}

package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/olyamironova/matching-core/internal/adapter/in_memory"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/engine"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type harness struct {
	client *Client
	hub    *TradeHub
	reg    *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hub := NewTradeHub(16)
	eng := core.NewEngine(
		core.WithRepository(in_memory.NewMemoryRepo()),
		core.WithPublisher(port.Publishers{hub}),
	)
	require.NoError(t, eng.AddMarket(context.Background(), engine.NewTradingPair("BTC", "USD")))

	reg := prometheus.NewRegistry()
	met := grpcprom.NewServerMetrics()
	reg.MustRegister(met)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(eng, WithTradeHub(hub), WithServerMetrics(met)).NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{client: NewClient(conn), hub: hub, reg: reg}
}

func msg(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPC_AddAndListMarkets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.client.Call(ctx, "AddMarket", msg(t, map[string]any{"base": "ETH", "quote": "USD"}))
	require.NoError(t, err)
	assert.Equal(t, "ETH/USD", out.Fields["market"].GetStringValue())

	_, err = h.client.Call(ctx, "AddMarket", msg(t, map[string]any{"base": "ETH", "quote": "USD"}))
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = h.client.Call(ctx, "AddMarket", msg(t, map[string]any{"base": "ETH"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, "AddMarket", msg(t, map[string]any{"base": "ETH/BTC", "quote": "USD"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	out, err = h.client.Call(ctx, "AddMarket", msg(t, map[string]any{"base": " SOL", "quote": "USD"}))
	require.NoError(t, err)
	assert.Equal(t, "SOL/USD", out.Fields["market"].GetStringValue())

	_, err = h.client.Call(ctx, "PlaceLimitOrder", msg(t, map[string]any{
		"market": "SOL/USD", "side": "ASK", "price": "10", "size": "1",
	}))
	require.NoError(t, err)

	out, err = h.client.Call(ctx, "ListMarkets", msg(t, nil))
	require.NoError(t, err)
	assert.Len(t, out.Fields["markets"].GetListValue().GetValues(), 3)

	n, err := testutil.GatherAndCount(h.reg, "grpc_server_handled_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestGRPC_OrdersAndOrderbook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	placed, err := h.client.Call(ctx, "PlaceLimitOrder", msg(t, map[string]any{
		"market": "BTC/USD", "side": "SELL", "price": "250.5", "size": "4",
	}))
	require.NoError(t, err)
	makerID := placed.Fields["order_id"].GetStringValue()
	require.NotEmpty(t, makerID)

	res, err := h.client.Call(ctx, "SubmitMarketOrder", msg(t, map[string]any{
		"market": "BTC/USD", "side": "BUY", "size": "1.5",
	}))
	require.NoError(t, err)
	trades := res.Fields["trades"].GetListValue().GetValues()
	require.Len(t, trades, 1)
	trade := trades[0].GetStructValue().Fields
	assert.Equal(t, makerID, trade["maker_order_id"].GetStringValue())
	assert.Equal(t, "250.5", trade["price"].GetStringValue())
	assert.Equal(t, "0", res.Fields["remaining"].GetStringValue())

	ob, err := h.client.Call(ctx, "GetOrderbook", msg(t, map[string]any{"market": "BTC/USD", "depth": 5}))
	require.NoError(t, err)
	asks := ob.Fields["asks"].GetListValue().GetValues()
	require.Len(t, asks, 1)
	assert.Equal(t, "2.5", asks[0].GetStructValue().Fields["volume"].GetStringValue())

	got, err := h.client.Call(ctx, "GetTrades", msg(t, map[string]any{"order_id": makerID}))
	require.NoError(t, err)
	assert.Len(t, got.Fields["trades"].GetListValue().GetValues(), 1)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Call(ctx, "PlaceLimitOrder", msg(t, map[string]any{
		"market": "ETH/USD", "side": "BID", "price": "1", "size": "1",
	}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = h.client.Call(ctx, "SubmitMarketOrder", msg(t, map[string]any{
		"market": "BTC/USD", "side": "BID", "size": "0",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, "PlaceLimitOrder", msg(t, map[string]any{
		"market": "BTC/USD", "side": "BID", "price": "1e2000000", "size": "1",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, "GetOrderbook", msg(t, map[string]any{"market": "nope"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_StreamTrades(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamTrades(ctx, msg(t, map[string]any{"market": "BTC/USD"}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		h.hub.mu.RLock()
		defer h.hub.mu.RUnlock()
		return len(h.hub.subs["BTC/USD"]) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = h.client.Call(ctx, "PlaceLimitOrder", msg(t, map[string]any{
		"market": "BTC/USD", "side": "BID", "price": "10", "size": "1",
	}))
	require.NoError(t, err)
	_, err = h.client.Call(ctx, "SubmitMarketOrder", msg(t, map[string]any{
		"market": "BTC/USD", "side": "ASK", "size": "1",
	}))
	require.NoError(t, err)

	got, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", got.Fields["market"].GetStringValue())
	assert.Equal(t, "ASK", got.Fields["taker_side"].GetStringValue())
}

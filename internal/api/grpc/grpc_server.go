package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/olyamironova/matching-core/internal/api/dto"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/engine"
	"github.com/olyamironova/matching-core/internal/logger"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ MatchingServer = (*GRPCServer)(nil)

type GRPCServer struct {
	Eng *core.Engine
	hub *TradeHub
	log *zap.Logger
	met *grpcprom.ServerMetrics
}

type Option func(*GRPCServer)

func WithLogger(l *zap.Logger) Option { return func(s *GRPCServer) { s.log = l } }

// WithTradeHub enables StreamTrades.
func WithTradeHub(h *TradeHub) Option { return func(s *GRPCServer) { s.hub = h } }

// WithServerMetrics records per-method RPC metrics.
func WithServerMetrics(m *grpcprom.ServerMetrics) Option { return func(s *GRPCServer) { s.met = m } }

func NewGRPCServer(eng *core.Engine, opts ...Option) *GRPCServer {
	s := &GRPCServer{Eng: eng, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServer builds a grpc.Server with recovery, logging and metrics
// interceptors and the matching service registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	recoverOpt := recovery.WithRecoveryHandler(func(p any) error {
		s.log.Error("grpc panic", zap.Any("panic", p))
		return status.Error(codes.Internal, "internal error")
	})
	logOpts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}

	unary := []grpc.UnaryServerInterceptor{
		recovery.UnaryServerInterceptor(recoverOpt),
		logging.UnaryServerInterceptor(interceptorLogger(s.log), logOpts...),
	}
	stream := []grpc.StreamServerInterceptor{
		recovery.StreamServerInterceptor(recoverOpt),
		logging.StreamServerInterceptor(interceptorLogger(s.log), logOpts...),
	}
	if s.met != nil {
		unary = append(unary, s.met.UnaryServerInterceptor())
		stream = append(stream, s.met.StreamServerInterceptor())
	}
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}, opts...)

	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, s)
	if s.met != nil {
		s.met.InitializeMetrics(srv)
	}
	return srv
}

// Run serves on addr until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context, addr string, opts ...grpc.ServerOption) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc: listen %s: %w", addr, err)
	}
	srv := s.NewServer(opts...)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	s.log.Info("grpc server listening", zap.String("addr", addr))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// interceptorLogger adapts zap to the go-grpc-middleware logging interface.
func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, _ := fields[i].(string)
			f = append(f, zap.Any(key, fields[i+1]))
		}
		log := logger.FromContext(ctx, l).WithOptions(zap.AddCallerSkip(1)).With(f...)
		switch lvl {
		case logging.LevelDebug:
			log.Debug(msg)
		case logging.LevelInfo:
			log.Info(msg)
		case logging.LevelWarn:
			log.Warn(msg)
		default:
			log.Error(msg)
		}
	})
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, engine.ErrMarketNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, engine.ErrMarketExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, dto.ErrBadRequest), errors.Is(err, core.ErrInvalidOrder):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func decode(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func (s *GRPCServer) AddMarket(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.CreateMarketRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	pair, err := req.Validate()
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.Eng.AddMarket(ctx, pair); err != nil {
		return nil, toStatus(err)
	}
	return encode(dto.MarketResponse{Market: pair.String()})
}

func (s *GRPCServer) ListMarkets(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pairs := s.Eng.Markets()
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.String()
	}
	return encode(dto.ListMarketsResponse{Markets: out})
}

func (s *GRPCServer) PlaceLimitOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.PlaceLimitOrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	lo, err := req.Validate()
	if err != nil {
		return nil, toStatus(err)
	}
	o, err := s.Eng.PlaceLimitOrder(ctx, lo.Pair, lo.Side, lo.Price, lo.Size)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dto.FromOrder(lo.Pair, lo.Price, o))
}

func (s *GRPCServer) SubmitMarketOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.MarketOrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	mo, err := req.Validate()
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.Eng.SubmitMarketOrder(ctx, mo.Pair, mo.Side, mo.Size)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dto.FromMarketResult(res.Order, res.Trades))
}

func (s *GRPCServer) GetOrderbook(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Market string `json:"market"`
		Depth  int    `json:"depth"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	pair, err := dto.ParseMarket(req.Market)
	if err != nil {
		return nil, toStatus(err)
	}
	snap, err := s.Eng.GetOrderbook(ctx, pair, req.Depth)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dto.FromSnapshot(snap))
}

func (s *GRPCServer) GetTrades(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	trades, err := s.Eng.GetTradesForOrder(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dto.GetTradesResponse{Trades: dto.FromTrades(trades)})
}

// StreamTrades pushes trades of the requested market (all markets when
// "market" is empty) until the client goes away.
func (s *GRPCServer) StreamTrades(in *structpb.Struct, stream grpc.ServerStream) error {
	if s.hub == nil {
		return status.Error(codes.Unimplemented, "trade stream disabled")
	}
	var req struct {
		Market string `json:"market"`
	}
	if err := decode(in, &req); err != nil {
		return err
	}
	market := ""
	if req.Market != "" {
		pair, err := dto.ParseMarket(req.Market)
		if err != nil {
			return toStatus(err)
		}
		market = pair.String()
	}

	ch, unsubscribe := s.hub.Subscribe(market)
	defer unsubscribe()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := encode(dto.FromTrades([]*domain.Trade{t})[0])
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

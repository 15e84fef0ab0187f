package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "matching.v1.Matching"

// MatchingServer is the server API of matching.v1.Matching. Every message is
// a google.protobuf.Struct carrying the same fields as the HTTP bodies.
type MatchingServer interface {
	AddMarket(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMarkets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlaceLimitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitMarketOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderbook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTrades(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamTrades(*structpb.Struct, grpc.ServerStream) error
}

type unaryCall func(MatchingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MatchingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(MatchingServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func streamTradesHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MatchingServer).StreamTrades(in, stream)
}

// ServiceDesc is registered with grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MatchingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AddMarket", MatchingServer.AddMarket),
		unary("ListMarkets", MatchingServer.ListMarkets),
		unary("PlaceLimitOrder", MatchingServer.PlaceLimitOrder),
		unary("SubmitMarketOrder", MatchingServer.SubmitMarketOrder),
		unary("GetOrderbook", MatchingServer.GetOrderbook),
		unary("GetTrades", MatchingServer.GetTrades),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamTrades",
			Handler:       streamTradesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "matching/v1/matching.proto",
}

// Client calls matching.v1.Matching over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// TradeStream receives trades from StreamTrades.
type TradeStream struct {
	stream grpc.ClientStream
}

func (s *TradeStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StreamTrades(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*TradeStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/StreamTrades", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &TradeStream{stream: stream}, nil
}

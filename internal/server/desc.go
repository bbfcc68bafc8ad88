package server

import (
	"Parimutuel/internal/event"
	"Parimutuel/internal/query"
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "parimutuel.v1.MarketService"

// MarketServiceServer is the server API of the Market service
type MarketServiceServer interface {
	SubmitCommand(context.Context, *event.Command) (*SubmitCommandResponse, error)
	FundParticipant(context.Context, *FundParticipantRequest) (*FundParticipantResponse, error)
	SeedTreasury(context.Context, *SeedTreasuryRequest) (*Empty, error)

	GetMarket(context.Context, *GetMarketRequest) (*query.MarketResponse, error)
	GetRound(context.Context, *GetRoundRequest) (*query.RoundResponse, error)
	ListSettlements(context.Context, *ListSettlementsRequest) (*SettlementsResponse, error)
	ListParticipantSettlements(context.Context, *ListParticipantSettlementsRequest) (*SettlementsResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceResponse, error)
	GetTreasury(context.Context, *GetTreasuryRequest) (*query.TreasuryResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*JournalsResponse, error)

	GetEventLogInfo(context.Context, *Empty) (*query.EventLogInfo, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	VerifySnapshots(context.Context, *Empty) (*VerifySnapshotsResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildProjectionsResponse, error)
	TakeSnapshot(context.Context, *Empty) (*TakeSnapshotResponse, error)
}

// MarketServiceDesc describes the Market service for grpc.Server.RegisterService.
// Messages travel on the JSON codec.
var MarketServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitCommand", MarketServiceServer.SubmitCommand),
		unary("FundParticipant", MarketServiceServer.FundParticipant),
		unary("SeedTreasury", MarketServiceServer.SeedTreasury),
		unary("GetMarket", MarketServiceServer.GetMarket),
		unary("GetRound", MarketServiceServer.GetRound),
		unary("ListSettlements", MarketServiceServer.ListSettlements),
		unary("ListParticipantSettlements", MarketServiceServer.ListParticipantSettlements),
		unary("GetBalance", MarketServiceServer.GetBalance),
		unary("GetTreasury", MarketServiceServer.GetTreasury),
		unary("ListJournals", MarketServiceServer.ListJournals),
		unary("GetEventLogInfo", MarketServiceServer.GetEventLogInfo),
		unary("VerifyIntegrity", MarketServiceServer.VerifyIntegrity),
		unary("VerifySnapshots", MarketServiceServer.VerifySnapshots),
		unary("RebuildProjections", MarketServiceServer.RebuildProjections),
		unary("TakeSnapshot", MarketServiceServer.TakeSnapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "parimutuel/v1/market.json",
}

func RegisterMarketServiceServer(s grpc.ServiceRegistrar, srv MarketServiceServer) {
	s.RegisterService(&MarketServiceDesc, srv)
}

// FullMethod returns the gRPC path of a Market service method
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unary builds the method handler that decodes Req, runs the interceptor
// chain and calls fn on the registered server.
func unary[Req, Resp any](name string, fn func(MarketServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(MarketServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(MarketServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

package server

import (
	"Parimutuel/internal/core"
	"Parimutuel/internal/event"
	"Parimutuel/internal/market"
	"Parimutuel/internal/query"
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ingest submits commands and admin custody injections
type Ingest interface {
	Submit(ctx context.Context, cmd *event.Command) (string, error)
	FundParticipant(ctx context.Context, participant, asset string, amount uint64) (string, error)
	SeedTreasury(ctx context.Context, amount uint64) error
}

// Snapshotter takes an on-demand snapshot
type Snapshotter interface {
	Take(ctx context.Context) (int64, error)
}

// RebuildFunc replays the event log into the projections and returns the
// number of events applied
type RebuildFunc func(ctx context.Context) (int, error)

// MarketService implements MarketServiceServer. Every method returns gRPC
// status errors, so the HTTP gateway shares its error mapping.
type MarketService struct {
	ingest   Ingest
	queries  *query.QueryService
	snapshot Snapshotter
	rebuild  RebuildFunc
	validate *validator.Validate
}

func NewMarketService(ingest Ingest, queries *query.QueryService, snapshot Snapshotter, rebuild RebuildFunc) *MarketService {
	return &MarketService{
		ingest:   ingest,
		queries:  queries,
		snapshot: snapshot,
		rebuild:  rebuild,
		validate: validator.New(),
	}
}

var _ MarketServiceServer = (*MarketService)(nil)

// ============================================================================
// Ingest
// ============================================================================

func (s *MarketService) SubmitCommand(ctx context.Context, req *event.Command) (*SubmitCommandResponse, error) {
	id, err := s.ingest.Submit(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitCommandResponse{CommandID: id}, nil
}

func (s *MarketService) FundParticipant(ctx context.Context, req *FundParticipantRequest) (*FundParticipantResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	ref, err := s.ingest.FundParticipant(ctx, req.Participant, req.Asset, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FundParticipantResponse{Ref: ref}, nil
}

func (s *MarketService) SeedTreasury(ctx context.Context, req *SeedTreasuryRequest) (*Empty, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := s.ingest.SeedTreasury(ctx, req.Amount); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// ============================================================================
// Queries
// ============================================================================

func (s *MarketService) GetMarket(ctx context.Context, req *GetMarketRequest) (*query.MarketResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	resp, err := s.queries.GetMarket(ctx, req.Token)
	return resp, toStatus(err)
}

func (s *MarketService) GetRound(ctx context.Context, req *GetRoundRequest) (*query.RoundResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	resp, err := s.queries.GetRound(ctx, req.Token, req.Round)
	return resp, toStatus(err)
}

func (s *MarketService) ListSettlements(ctx context.Context, req *ListSettlementsRequest) (*SettlementsResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	out, err := s.queries.GetSettlements(ctx, req.Token, req.Round, req.PageSize, req.AfterSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettlementsResponse{Settlements: out}, nil
}

func (s *MarketService) ListParticipantSettlements(ctx context.Context, req *ListParticipantSettlementsRequest) (*SettlementsResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	out, err := s.queries.GetParticipantSettlements(ctx, req.Participant, req.PageSize, req.AfterSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettlementsResponse{Settlements: out}, nil
}

func (s *MarketService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	resp, err := s.queries.GetBalance(ctx, req.Participant)
	return resp, toStatus(err)
}

func (s *MarketService) GetTreasury(ctx context.Context, req *GetTreasuryRequest) (*query.TreasuryResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	resp, err := s.queries.GetTreasury(ctx, req.Authority)
	return resp, toStatus(err)
}

func (s *MarketService) ListJournals(ctx context.Context, req *ListJournalsRequest) (*JournalsResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	out, err := s.queries.GetJournalHistory(ctx, req.Participant, req.PageSize, req.BeforeUs)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalsResponse{Journals: out}, nil
}

// ============================================================================
// Admin
// ============================================================================

func (s *MarketService) GetEventLogInfo(ctx context.Context, _ *Empty) (*query.EventLogInfo, error) {
	info, err := s.queries.GetEventLogInfo(ctx)
	return info, toStatus(err)
}

func (s *MarketService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.queries.VerifyIntegrity(ctx)
	return report, toStatus(err)
}

func (s *MarketService) VerifySnapshots(ctx context.Context, _ *Empty) (*VerifySnapshotsResponse, error) {
	verified, err := s.queries.VerifySnapshots(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &VerifySnapshotsResponse{Verified: verified}, nil
}

func (s *MarketService) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildProjectionsResponse, error) {
	if s.rebuild == nil {
		return nil, status.Error(codes.Unimplemented, "projection rebuild is not configured")
	}
	n, err := s.rebuild(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsResponse{Events: n}, nil
}

func (s *MarketService) TakeSnapshot(ctx context.Context, _ *Empty) (*TakeSnapshotResponse, error) {
	if s.snapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	seq, err := s.snapshot.Take(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot failed: %v", err)
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

// ============================================================================
// Errors
// ============================================================================

func (s *MarketService) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

// toStatus maps engine and query errors to gRPC status. Market rejections
// keep their stable code at the start of the message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, query.ErrNotFound), errors.Is(err, market.ErrMarketNotFound), errors.Is(err, market.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrInvalidCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	}

	var me *market.Error
	if errors.As(err, &me) {
		msg := err.Error()
		if !strings.HasPrefix(msg, me.Code) {
			msg = me.Code + ": " + msg
		}
		return status.Error(categoryCode(me.Category), msg)
	}
	return status.Error(codes.Internal, err.Error())
}

func categoryCode(c market.Category) codes.Code {
	switch c {
	case market.CategoryStateMismatch, market.CategoryConsolidationIncomplete:
		return codes.FailedPrecondition
	case market.CategoryIdentityMismatch:
		return codes.PermissionDenied
	case market.CategoryFunds:
		return codes.InvalidArgument
	case market.CategoryDoubleAction:
		return codes.AlreadyExists
	case market.CategoryCapacity:
		return codes.ResourceExhausted
	case market.CategoryExternalCall:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

package ingestion

import (
	"Parimutuel/internal/event"
	"Parimutuel/internal/ledger"
	"Parimutuel/internal/market"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Funder credits participant wallets from outside custody
type Funder interface {
	Fund(ctx context.Context, ref string, id market.Identity, asset ledger.AssetID, amount uint64) error
}

// TreasurySeeder tops up treasury custody from outside
type TreasurySeeder interface {
	Seed(ctx context.Context, amount uint64) error
}

// RPCIngestService provides synchronous command submission and admin
// injection for the RPC surface. NATS remains the high-throughput path.
type RPCIngestService struct {
	handler  CommandHandler
	wallets  Funder
	treasury TreasurySeeder
}

func NewRPCIngestService(handler CommandHandler, wallets Funder, treasury TreasurySeeder) *RPCIngestService {
	return &RPCIngestService{handler: handler, wallets: wallets, treasury: treasury}
}

// Submit applies cmd and returns its command ID. A missing ID is generated,
// so such a call is not safe to retry.
func (s *RPCIngestService) Submit(ctx context.Context, cmd *event.Command) (string, error) {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	if err := s.handler.Process(ctx, cmd); err != nil {
		return cmd.CommandID, err
	}
	return cmd.CommandID, nil
}

// FundParticipant credits a participant wallet with SOL or voting tokens
func (s *RPCIngestService) FundParticipant(ctx context.Context, participant, asset string, amount uint64) (string, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return "", fmt.Errorf("unknown asset %q", asset)
	}
	ref := "fund:" + uuid.NewString()
	if err := s.wallets.Fund(ctx, ref, market.Identity(participant), assetID, amount); err != nil {
		return "", err
	}
	return ref, nil
}

// SeedTreasury deposits SOL into treasury custody from outside the market
func (s *RPCIngestService) SeedTreasury(ctx context.Context, amount uint64) error {
	return s.treasury.Seed(ctx, amount)
}

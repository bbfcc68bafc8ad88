package market

import "context"

// Store persists market records under composite keys. Getters return ErrNotFound
// when the record does not exist. Commit applies a ChangeSet atomically.
type Store interface {
	GetMarket(ctx context.Context, token Identity) (*Market, error)
	GetEscrow(ctx context.Context, key FacetKey) (*Escrow, error)
	GetPoll(ctx context.Context, key FacetKey) (*Poll, error)
	GetBettor(ctx context.Context, key ParticipantKey) (*Bettor, error)
	GetVoter(ctx context.Context, key ParticipantKey) (*Voter, error)
	Commit(ctx context.Context, cs *ChangeSet) error
	LoadAll(ctx context.Context) (*Records, error)
}

// ChangeSet is the full set of records written by one entry point
type ChangeSet struct {
	Markets []*Market
	Escrows []*Escrow
	Polls   []*Poll
	Bettors []*Bettor
	Voters  []*Voter
}

func (cs *ChangeSet) PutMarket(m *Market) { cs.Markets = append(cs.Markets, m) }
func (cs *ChangeSet) PutEscrow(e *Escrow) { cs.Escrows = append(cs.Escrows, e) }
func (cs *ChangeSet) PutPoll(p *Poll)     { cs.Polls = append(cs.Polls, p) }
func (cs *ChangeSet) PutBettor(b *Bettor) { cs.Bettors = append(cs.Bettors, b) }
func (cs *ChangeSet) PutVoter(v *Voter)   { cs.Voters = append(cs.Voters, v) }

func (cs *ChangeSet) Empty() bool {
	return len(cs.Markets)+len(cs.Escrows)+len(cs.Polls)+len(cs.Bettors)+len(cs.Voters) == 0
}

// Records is a full dump of the store, used by snapshots
type Records struct {
	Markets []*Market `json:"markets"`
	Escrows []*Escrow `json:"escrows"`
	Polls   []*Poll   `json:"polls"`
	Bettors []*Bettor `json:"bettors"`
	Voters  []*Voter  `json:"voters"`
}

// ChangeSet converts a dump back into a commit that restores it
func (r *Records) ChangeSet() *ChangeSet {
	return &ChangeSet{
		Markets: r.Markets,
		Escrows: r.Escrows,
		Polls:   r.Polls,
		Bettors: r.Bettors,
		Voters:  r.Voters,
	}
}

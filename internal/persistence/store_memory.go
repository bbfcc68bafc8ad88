package persistence

import (
	"Parimutuel/internal/market"
	"context"
	"sort"
	"sync"
)

// MemoryStore is a market.Store kept in process memory. Getters and Commit
// copy records so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[market.Identity]*market.Market
	escrows map[market.FacetKey]*market.Escrow
	polls   map[market.FacetKey]*market.Poll
	bettors map[market.ParticipantKey]*market.Bettor
	voters  map[market.ParticipantKey]*market.Voter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[market.Identity]*market.Market),
		escrows: make(map[market.FacetKey]*market.Escrow),
		polls:   make(map[market.FacetKey]*market.Poll),
		bettors: make(map[market.ParticipantKey]*market.Bettor),
		voters:  make(map[market.ParticipantKey]*market.Voter),
	}
}

func (s *MemoryStore) GetMarket(_ context.Context, token market.Identity) (*market.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[token]
	if !ok {
		return nil, market.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) GetEscrow(_ context.Context, key market.FacetKey) (*market.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[key]
	if !ok {
		return nil, market.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) GetPoll(_ context.Context, key market.FacetKey) (*market.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[key]
	if !ok {
		return nil, market.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetBettor(_ context.Context, key market.ParticipantKey) (*market.Bettor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bettors[key]
	if !ok {
		return nil, market.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) GetVoter(_ context.Context, key market.ParticipantKey) (*market.Voter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.voters[key]
	if !ok {
		return nil, market.ErrNotFound
	}
	return v.Clone(), nil
}

// Commit writes every record of cs under one lock
func (s *MemoryStore) Commit(ctx context.Context, cs *market.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range cs.Markets {
		s.markets[m.Token] = m.Clone()
	}
	for _, e := range cs.Escrows {
		s.escrows[market.FacetKey{Token: e.Token, Facet: e.Facet}] = e.Clone()
	}
	for _, p := range cs.Polls {
		s.polls[market.FacetKey{Token: p.Token, Facet: p.Facet}] = p.Clone()
	}
	for _, b := range cs.Bettors {
		s.bettors[market.ParticipantKey{Token: b.Token, Facet: b.Facet, Participant: b.Participant}] = b.Clone()
	}
	for _, v := range cs.Voters {
		s.voters[market.ParticipantKey{Token: v.Token, Facet: v.Facet, Participant: v.Participant}] = v.Clone()
	}
	return nil
}

// LoadAll dumps every record in key order
func (s *MemoryStore) LoadAll(_ context.Context) (*market.Records, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &market.Records{}
	for _, m := range s.markets {
		r.Markets = append(r.Markets, m.Clone())
	}
	for _, e := range s.escrows {
		r.Escrows = append(r.Escrows, e.Clone())
	}
	for _, p := range s.polls {
		r.Polls = append(r.Polls, p.Clone())
	}
	for _, b := range s.bettors {
		r.Bettors = append(r.Bettors, b.Clone())
	}
	for _, v := range s.voters {
		r.Voters = append(r.Voters, v.Clone())
	}
	sortRecords(r)
	return r, nil
}

func sortRecords(r *market.Records) {
	sort.Slice(r.Markets, func(i, j int) bool { return r.Markets[i].Token < r.Markets[j].Token })
	sort.Slice(r.Escrows, func(i, j int) bool {
		return facetKeyString(r.Escrows[i].Token, r.Escrows[i].Facet) < facetKeyString(r.Escrows[j].Token, r.Escrows[j].Facet)
	})
	sort.Slice(r.Polls, func(i, j int) bool {
		return facetKeyString(r.Polls[i].Token, r.Polls[i].Facet) < facetKeyString(r.Polls[j].Token, r.Polls[j].Facet)
	})
	sort.Slice(r.Bettors, func(i, j int) bool {
		a, b := r.Bettors[i], r.Bettors[j]
		return participantKeyString(a.Token, a.Facet, a.Participant) < participantKeyString(b.Token, b.Facet, b.Participant)
	})
	sort.Slice(r.Voters, func(i, j int) bool {
		a, b := r.Voters[i], r.Voters[j]
		return participantKeyString(a.Token, a.Facet, a.Participant) < participantKeyString(b.Token, b.Facet, b.Participant)
	})
}

var _ market.Store = (*MemoryStore)(nil)

package market

import "math/bits"

// Escrow holds the wager totals and bettor roster of one facet for the current round
type Escrow struct {
	Initialiser         Identity `json:"initialiser"`
	Token               Identity `json:"token"`
	Facet               Facet    `json:"facet"`
	Bettors             Roster   `json:"bettors"`
	BettorsConsolidated Roster   `json:"bettors_consolidated"`
	TotFor              uint64   `json:"tot_for"`
	TotAgainst          uint64   `json:"tot_against"`
	TotUnderdog         uint64   `json:"tot_underdog"`
}

func NewEscrow(key FacetKey) *Escrow {
	return &Escrow{Token: key.Token, Facet: key.Facet}
}

// Standard returns tot_for + tot_against
func (e *Escrow) Standard() (uint64, error) {
	return add(e.TotFor, e.TotAgainst)
}

// Settled reports whether every bettor has been consolidated
func (e *Escrow) Settled() bool {
	return e.Bettors.SetEqual(e.BettorsConsolidated)
}

func (e *Escrow) Empty() bool {
	return len(e.Bettors) == 0 && len(e.BettorsConsolidated) == 0 &&
		e.TotFor == 0 && e.TotAgainst == 0 && e.TotUnderdog == 0
}

// Reset clears rosters and totals; identity fields are kept
func (e *Escrow) Reset() {
	e.Bettors = nil
	e.BettorsConsolidated = nil
	e.TotFor = 0
	e.TotAgainst = 0
	e.TotUnderdog = 0
}

func (e *Escrow) Clone() *Escrow {
	c := *e
	c.Bettors = e.Bettors.Clone()
	c.BettorsConsolidated = e.BettorsConsolidated.Clone()
	return &c
}

// Poll holds the vote counts and voter roster of one facet for the current round.
// Tallies count voters, not token amounts.
type Poll struct {
	Token              Identity `json:"token"`
	Facet              Facet    `json:"facet"`
	Voters             Roster   `json:"voters"`
	VotersConsolidated Roster   `json:"voters_consolidated"`
	TotalFor           uint32   `json:"total_for"`
	TotalAgainst       uint32   `json:"total_against"`
}

func NewPoll(key FacetKey) *Poll {
	return &Poll{Token: key.Token, Facet: key.Facet}
}

func (p *Poll) Tally() uint32 {
	return p.TotalFor + p.TotalAgainst
}

func (p *Poll) Settled() bool {
	return p.Voters.SetEqual(p.VotersConsolidated)
}

func (p *Poll) Empty() bool {
	return len(p.Voters) == 0 && len(p.VotersConsolidated) == 0 &&
		p.TotalFor == 0 && p.TotalAgainst == 0
}

func (p *Poll) Reset() {
	p.Voters = nil
	p.VotersConsolidated = nil
	p.TotalFor = 0
	p.TotalAgainst = 0
}

func (p *Poll) Clone() *Poll {
	c := *p
	c.Voters = p.Voters.Clone()
	c.VotersConsolidated = p.VotersConsolidated.Clone()
	return &c
}

// Bettor is one participant's stake in one facet. It is reused across rounds.
type Bettor struct {
	Participant Identity `json:"participant"`
	Token       Identity `json:"token"`
	Facet       Facet    `json:"facet"`
	TotFor      uint64   `json:"tot_for"`
	TotAgainst  uint64   `json:"tot_against"`
	TotUnderdog uint64   `json:"tot_underdog"`

	// PendingMint is winnings owed after the stake was returned but the mint
	// failed. It survives Reset and is paid by the next settlement call.
	PendingMint uint64 `json:"pending_mint,omitempty"`
}

func NewBettor(key ParticipantKey) *Bettor {
	return &Bettor{Participant: key.Participant, Token: key.Token, Facet: key.Facet}
}

func (b *Bettor) Standard() (uint64, error) {
	return add(b.TotFor, b.TotAgainst)
}

// Total is the full stake across all three buckets
func (b *Bettor) Total() (uint64, error) {
	s, err := add(b.TotFor, b.TotAgainst)
	if err != nil {
		return 0, err
	}
	return add(s, b.TotUnderdog)
}

// Reset zeroes the stake buckets only
func (b *Bettor) Reset() {
	b.TotFor = 0
	b.TotAgainst = 0
	b.TotUnderdog = 0
}

func (b *Bettor) Clone() *Bettor {
	c := *b
	return &c
}

// Voter is one participant's vote in one facet
type Voter struct {
	Participant Identity `json:"participant"`
	Token       Identity `json:"token"`
	Facet       Facet    `json:"facet"`
	Amount      uint64   `json:"amount"`
	Direction   bool     `json:"direction"`
}

func NewVoter(key ParticipantKey) *Voter {
	return &Voter{Participant: key.Participant, Token: key.Token, Facet: key.Facet}
}

func (v *Voter) Clone() *Voter {
	c := *v
	return &c
}

// AddStake splits amount by direction and adds it to both the bettor and the escrow
func AddStake(e *Escrow, b *Bettor, amount uint64, direction bool) error {
	var forAmt, againstAmt uint64
	if direction {
		forAmt = amount
	} else {
		againstAmt = amount
	}

	eFor, err := add(e.TotFor, forAmt)
	if err != nil {
		return err
	}
	eAgainst, err := add(e.TotAgainst, againstAmt)
	if err != nil {
		return err
	}
	bFor, err := add(b.TotFor, forAmt)
	if err != nil {
		return err
	}
	bAgainst, err := add(b.TotAgainst, againstAmt)
	if err != nil {
		return err
	}

	e.TotFor, e.TotAgainst = eFor, eAgainst
	b.TotFor, b.TotAgainst = bFor, bAgainst
	return nil
}

// AddUnderdog adds amount to both underdog totals
func AddUnderdog(e *Escrow, b *Bettor, amount uint64) error {
	eU, err := add(e.TotUnderdog, amount)
	if err != nil {
		return err
	}
	bU, err := add(b.TotUnderdog, amount)
	if err != nil {
		return err
	}
	e.TotUnderdog, b.TotUnderdog = eU, bU
	return nil
}

func add(x, y uint64) (uint64, error) {
	sum, carry := bits.Add64(x, y, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

package persistence

import (
	"Parimutuel/internal/market"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Record kinds stored in market_records
const (
	kindMarket = "market"
	kindEscrow = "escrow"
	kindPoll   = "poll"
	kindBettor = "bettor"
	kindVoter  = "voter"
)

// SQLStore is a market.Store over one (kind, key) -> JSON table. Postgres and
// SQLite share the schema; Commit runs one transaction per change set.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func facetKeyString(token market.Identity, facet market.Facet) string {
	return string(token) + "|" + facet.String()
}

func participantKeyString(token market.Identity, facet market.Facet, participant market.Identity) string {
	return facetKeyString(token, facet) + "|" + string(participant)
}

func (s *SQLStore) get(ctx context.Context, kind, key string, dst any) error {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT data FROM market_records WHERE kind = $1 AND record_key = $2`,
	), kind, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return market.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s %s: %w", kind, key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, key, err)
	}
	return nil
}

func (s *SQLStore) GetMarket(ctx context.Context, token market.Identity) (*market.Market, error) {
	var m market.Market
	if err := s.get(ctx, kindMarket, string(token), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLStore) GetEscrow(ctx context.Context, key market.FacetKey) (*market.Escrow, error) {
	var e market.Escrow
	if err := s.get(ctx, kindEscrow, facetKeyString(key.Token, key.Facet), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLStore) GetPoll(ctx context.Context, key market.FacetKey) (*market.Poll, error) {
	var p market.Poll
	if err := s.get(ctx, kindPoll, facetKeyString(key.Token, key.Facet), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLStore) GetBettor(ctx context.Context, key market.ParticipantKey) (*market.Bettor, error) {
	var b market.Bettor
	if err := s.get(ctx, kindBettor, participantKeyString(key.Token, key.Facet, key.Participant), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLStore) GetVoter(ctx context.Context, key market.ParticipantKey) (*market.Voter, error) {
	var v market.Voter
	if err := s.get(ctx, kindVoter, participantKeyString(key.Token, key.Facet, key.Participant), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

type recordRow struct {
	kind, key string
	value     any
}

func changeSetRows(cs *market.ChangeSet) []recordRow {
	rows := make([]recordRow, 0, len(cs.Markets)+len(cs.Escrows)+len(cs.Polls)+len(cs.Bettors)+len(cs.Voters))
	for _, m := range cs.Markets {
		rows = append(rows, recordRow{kindMarket, string(m.Token), m})
	}
	for _, e := range cs.Escrows {
		rows = append(rows, recordRow{kindEscrow, facetKeyString(e.Token, e.Facet), e})
	}
	for _, p := range cs.Polls {
		rows = append(rows, recordRow{kindPoll, facetKeyString(p.Token, p.Facet), p})
	}
	for _, b := range cs.Bettors {
		rows = append(rows, recordRow{kindBettor, participantKeyString(b.Token, b.Facet, b.Participant), b})
	}
	for _, v := range cs.Voters {
		rows = append(rows, recordRow{kindVoter, participantKeyString(v.Token, v.Facet, v.Participant), v})
	}
	return rows
}

// Commit upserts every record of cs in one transaction
func (s *SQLStore) Commit(ctx context.Context, cs *market.ChangeSet) error {
	if cs.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	query := s.dialect.Rebind(`
		INSERT INTO market_records (kind, record_key, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, record_key) DO UPDATE SET data = excluded.data
	`)
	for _, r := range changeSetRows(cs) {
		data, err := json.Marshal(r.value)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", r.kind, r.key, err)
		}
		if _, err := tx.ExecContext(ctx, query, r.kind, r.key, data); err != nil {
			return fmt.Errorf("upsert %s %s: %w", r.kind, r.key, err)
		}
	}

	return tx.Commit()
}

// LoadAll dumps every record in key order
func (s *SQLStore) LoadAll(ctx context.Context) (*market.Records, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, data FROM market_records ORDER BY kind, record_key`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	r := &market.Records{}
	for rows.Next() {
		var kind string
		var data []byte
		if err := rows.Scan(&kind, &data); err != nil {
			return nil, err
		}

		switch kind {
		case kindMarket:
			var m market.Market
			err = json.Unmarshal(data, &m)
			r.Markets = append(r.Markets, &m)
		case kindEscrow:
			var e market.Escrow
			err = json.Unmarshal(data, &e)
			r.Escrows = append(r.Escrows, &e)
		case kindPoll:
			var p market.Poll
			err = json.Unmarshal(data, &p)
			r.Polls = append(r.Polls, &p)
		case kindBettor:
			var b market.Bettor
			err = json.Unmarshal(data, &b)
			r.Bettors = append(r.Bettors, &b)
		case kindVoter:
			var v market.Voter
			err = json.Unmarshal(data, &v)
			r.Voters = append(r.Voters, &v)
		default:
			err = fmt.Errorf("unknown record kind %q", kind)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(r)
	return r, nil
}

var _ market.Store = (*SQLStore)(nil)

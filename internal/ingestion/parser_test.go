package ingestion_test

import (
	"Parimutuel/internal/core"
	"Parimutuel/internal/event"
	"Parimutuel/internal/ingestion"
	"Parimutuel/internal/market"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   subject,
		MsgID:     "msg-1",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func(time.Duration) {},
		TermFunc:  func() {},
	}
}

// ============================================================================
// Test: Subjects
// ============================================================================

func TestDefaultSubjects_OnePerOperation(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	if len(subjects) != len(event.Operations) {
		t.Fatalf("subjects: got %d, want %d", len(subjects), len(event.Operations))
	}
	for i, s := range subjects {
		if s.StreamName != ingestion.CommandStream {
			t.Errorf("%s stream: got %s", s.Operation, s.StreamName)
		}
		if want := fmt.Sprintf("pari.cmd.%s.>", event.Operations[i]); s.Subject != want {
			t.Errorf("subject: got %s, want %s", s.Subject, want)
		}
	}
}

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject string
		op      event.Operation
		token   string
		wantErr bool
	}{
		{"pari.cmd.wager.TOKEN", event.OpWager, "TOKEN", false},
		{ingestion.CommandSubject(event.OpCallMarket, "Abc123"), event.OpCallMarket, "Abc123", false},
		{"pari.cmd.wager", "", "", true},
		{"pari.cmd.withdraw.TOKEN", "", "", true},
		{"orders.trades.BTC", "", "", true},
	}
	for _, tt := range tests {
		op, token, err := ingestion.ParseSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.subject, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ingestion.ErrMalformed) {
			t.Errorf("%s: error not ErrMalformed: %v", tt.subject, err)
		}
		if op != tt.op || token != tt.token {
			t.Errorf("%s: got (%s, %s), want (%s, %s)", tt.subject, op, token, tt.op, tt.token)
		}
	}
}

// ============================================================================
// Test: ParseCommand
// ============================================================================

func TestParseCommand_Wager(t *testing.T) {
	raw := rawFromJSON(t, "pari.cmd.wager.TOKEN", map[string]interface{}{
		"command_id":  "c-42",
		"facet":       "truthfulness",
		"participant": "alice",
		"amount":      uint64(1_000),
		"direction":   true,
	})

	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Operation != event.OpWager {
		t.Errorf("operation: got %s, want wager", cmd.Operation)
	}
	if cmd.Token != "TOKEN" {
		t.Errorf("token: got %s, want TOKEN", cmd.Token)
	}
	if cmd.CommandID != "c-42" {
		t.Errorf("command id: got %s, want c-42", cmd.CommandID)
	}
	if cmd.Amount != 1_000 || !cmd.Direction {
		t.Errorf("stake: got %d/%v, want 1000/true", cmd.Amount, cmd.Direction)
	}

	params, err := cmd.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.Facet != market.FacetTruthfulness || params.Participant != "alice" {
		t.Errorf("params: got %+v", params)
	}
}

func TestParseCommand_MsgIDFallback(t *testing.T) {
	raw := rawFromJSON(t, "pari.cmd.initialise_market.TOKEN", map[string]interface{}{
		"facets":          []string{"truthfulness"},
		"timeout_seconds": 86_400,
	})

	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.CommandID != "msg-1" {
		t.Errorf("command id: got %q, want msg-1", cmd.CommandID)
	}
	if cmd.Timeout() != 24*time.Hour {
		t.Errorf("timeout: got %s, want 24h", cmd.Timeout())
	}
}

func TestParseCommand_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    interface{}
	}{
		{"operation mismatch", "pari.cmd.wager.TOKEN", map[string]interface{}{"operation": "vote"}},
		{"token mismatch", "pari.cmd.wager.TOKEN", map[string]interface{}{"token": "OTHER"}},
		{"unknown field", "pari.cmd.wager.TOKEN", map[string]interface{}{"leverage": 10}},
		{"not an object", "pari.cmd.wager.TOKEN", []int{1, 2}},
		{"bad subject", "pari.cmd.TOKEN", map[string]interface{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(rawFromJSON(t, tt.subject, tt.body))
			if !errors.Is(err, ingestion.ErrMalformed) {
				t.Errorf("got %v, want ErrMalformed", err)
			}
		})
	}
}

// ============================================================================
// Test: CommandLoop acknowledgement
// ============================================================================

type stubHandler struct {
	err  error
	seen []*event.Command
}

func (h *stubHandler) Process(_ context.Context, cmd *event.Command) error {
	h.seen = append(h.seen, cmd)
	return h.err
}

func TestCommandLoop_Acknowledgement(t *testing.T) {
	body := map[string]interface{}{"command_id": "c", "facet": "truthfulness", "participant": "a", "amount": 1}

	tests := []struct {
		name    string
		subject string
		err     error
		want    string
	}{
		{"applied", "pari.cmd.wager.T", nil, "ack"},
		{"rejected", "pari.cmd.wager.T", market.ErrBettingClosed, "ack"},
		{"invalid", "pari.cmd.wager.T", fmt.Errorf("%w: x", core.ErrInvalidCommand), "ack"},
		{"custody failure", "pari.cmd.wager.T", fmt.Errorf("%w: mint offline", market.ErrExternalCall), "nak"},
		{"unparseable", "pari.cmd.T", nil, "term"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			raw := rawFromJSON(t, tt.subject, body)
			raw.AckFunc = func() { got = append(got, "ack") }
			raw.NakFunc = func(time.Duration) { got = append(got, "nak") }
			raw.TermFunc = func() { got = append(got, "term") }

			in := make(chan ingestion.RawCommand, 1)
			in <- raw
			close(in)

			h := &stubHandler{err: tt.err}
			if err := ingestion.NewCommandLoop(in, h, nil, zerolog.Nop()).Run(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("acks: got %v, want [%s]", got, tt.want)
			}
			if tt.want == "term" && len(h.seen) != 0 {
				t.Error("unparseable command reached the handler")
			}
		})
	}
}

// ============================================================================
// Test: Outbound
// ============================================================================

func TestPublishableFromEnvelope(t *testing.T) {
	env := &event.EventEnvelope{
		Sequence:       9,
		IdempotencyKey: "c-9",
		Operation:      event.OpWager,
		EventType:      event.EventTypeWagerPlaced,
		Token:          "TOKEN",
		Facet:          market.FacetOriginality,
		Participant:    "bob",
		Round:          2,
		Payload:        []byte(`{"amount":5}`),
	}
	p := ingestion.PublishableFromEnvelope(env)

	if p.Subject() != "pari.events.WagerPlaced.TOKEN" {
		t.Errorf("subject: got %s", p.Subject())
	}
	if p.Facet != "originality" {
		t.Errorf("facet: got %s, want originality", p.Facet)
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]json.RawMessage
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(back["payload"]) != `{"amount":5}` {
		t.Errorf("payload re-encoded: got %s", back["payload"])
	}

	env.Facet = market.FacetUnknown
	if got := ingestion.PublishableFromEnvelope(env).Facet; got != "" {
		t.Errorf("token-level event facet: got %q, want empty", got)
	}
}

package main

import (
	"Parimutuel/internal/config"
	"Parimutuel/internal/observability"
	"Parimutuel/internal/persistence"
	"Parimutuel/internal/query"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	token := flag.String("token", "", "market token")
	round := flag.Int64("round", 1, "round number")
	limit := flag.Int("limit", 500, "maximum settlements to print")
	flag.Parse()

	logger := observability.NewLogger("roundreport")
	if *token == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	dialect, err := persistence.ParseDialect(cfg.Database.Driver)
	if err != nil {
		logger.Fatal().Err(err).Msg("database driver")
	}
	db, err := persistence.Open(dialect, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	qs := query.NewQueryService(db, dialect, persistence.NewSQLStore(db, dialect), nil)
	r, err := qs.GetRound(ctx, *token, *round)
	if err != nil {
		logger.Fatal().Err(err).Str("token", *token).Int64("round", *round).Msg("load round")
	}
	settlements, err := qs.GetSettlements(ctx, *token, *round, *limit, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("load settlements")
	}

	printReport(os.Stdout, r, settlements)
}

func printReport(out io.Writer, r *query.RoundResponse, settlements []query.SettlementResponse) {
	fmt.Fprintf(out, "\n%s round %d  state=%s  initialiser=%s\n", r.Token, r.Round, r.State, r.Initialiser)
	fmt.Fprintf(out, "  wagers=%d staked=%d votes=%d as_of=%d\n\n", r.Wagers, r.Staked, r.Votes, r.AsOfSequence)

	table := tablewriter.NewWriter(out)
	table.Header("Seq", "Facet", "Participant", "Kind", "Dir", "Returned", "Winnings", "Minted", "Reimbursed", "Flags")

	var returned, winnings, minted, reimbursed int64
	for _, s := range settlements {
		flags := ""
		if s.Tie {
			flags += "tie "
		}
		if s.MintFailed {
			flags += "mint_failed"
		}
		table.Append(
			strconv.FormatInt(s.Sequence, 10),
			s.Facet,
			s.Participant,
			s.Kind,
			direction(s.Direction),
			strconv.FormatInt(s.BetReturned, 10),
			strconv.FormatInt(s.WinningsPre, 10),
			strconv.FormatInt(s.Minted, 10),
			strconv.FormatInt(s.Reimbursed, 10),
			flags,
		)
		returned += s.BetReturned
		winnings += s.WinningsPre
		minted += s.Minted
		reimbursed += s.Reimbursed
	}
	table.Render()

	fmt.Fprintf(out, "  %d settlements | returned=%d winnings=%d minted=%d reimbursed=%d\n",
		len(settlements), returned, winnings, minted, reimbursed)
}

func direction(d bool) string {
	if d {
		return "for"
	}
	return "against"
}

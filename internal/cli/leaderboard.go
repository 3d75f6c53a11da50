package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quiz-match-service/internal/config"
	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/infra/postgres"
	"quiz-match-service/internal/leaderboard"
	"quiz-match-service/internal/logging"
)

// NewLeaderboardCmd reads persisted leaderboards.
func NewLeaderboardCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Inspect persisted leaderboards",
	}

	var (
		scope   string
		scopeID string
		limit   int
	)
	top := &cobra.Command{
		Use:   "top",
		Short: "Print the best entries of a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			db := postgres.OpenBun(cfg.Postgres.URL)
			defer db.Close()

			log := logging.New(cfg.Log.Level, cfg.Log.Format)
			boards := leaderboard.NewAggregator(postgres.NewStore(db), nil, log)
			return printTop(cmd.Context(), cmd.OutOrStdout(), boards, scope, scopeID, limit)
		},
	}
	top.Flags().StringVar(&scope, "scope", domain.ScopeOverall, "leaderboard scope")
	top.Flags().StringVar(&scopeID, "scope-id", domain.ScopeIDGlobal, "leaderboard scope id")
	top.Flags().IntVar(&limit, "limit", 10, "number of entries")
	cmd.AddCommand(top)
	return cmd
}

func printTop(ctx context.Context, out io.Writer, boards *leaderboard.Aggregator, scope, scopeID string, limit int) error {
	entries, err := boards.Top(ctx, scope, scopeID, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tNAME\tSCORE\tMATCH")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%s\n", e.Rank, e.PlayerID, e.DisplayName, e.Score, e.MatchID)
	}
	return w.Flush()
}

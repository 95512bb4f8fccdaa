package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
	"trade_pilot/internal/journal"
	"trade_pilot/internal/models"
	"trade_pilot/internal/modules/config"
	"trade_pilot/pkg/db"
	"trade_pilot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// openJournal без fx: CLI-команды только читают журнал.
func openJournal(ctx context.Context, cfg *config.Config) (journal.Store, func(), error) {
	switch cfg.Journal.Backend {
	case "pg":
		pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB, MaxConns: 2})
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect postgres")
		}
		tm := db.NewPgTxManager(pool)
		store, err := journal.NewPostgres(ctx, tm)
		if err != nil {
			tm.Close()
			return nil, nil, err
		}
		return store, tm.Close, nil
	case "memory":
		return nil, nil, fmt.Errorf("memory journal lives only inside the running process")
	default:
		store, err := journal.OpenSQLite(cfg.Journal.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

func withJournal(v *viper.Viper, fn func(ctx context.Context, store journal.Store) error) error {
	logger.UseNop()
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, closeFn, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, store)
}

func tradesCmd(v *viper.Viper) *cobra.Command {
	var (
		since  time.Duration
		from   string
		to     string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "print journal records for a time range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			end := time.Now()
			start := end.Add(-since)
			var err error
			if from != "" {
				if start, err = time.Parse(time.RFC3339, from); err != nil {
					return errors.Wrap(err, "--from")
				}
			}
			if to != "" {
				if end, err = time.Parse(time.RFC3339, to); err != nil {
					return errors.Wrap(err, "--to")
				}
			}
			if end.Before(start) {
				return fmt.Errorf("--to %s is before --from %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
			}
			return withJournal(v, func(ctx context.Context, store journal.Store) error {
				recs, err := store.Range(ctx, start, end)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				printTable(cmd.OutOrStdout(), recs)
				if pct, ok := journal.Performance(recs); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "\nbalance change: %s%%\n", pct)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "look back window when --from is not set")
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 start, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 end, inclusive")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw records")
	return cmd
}

func lastTradeCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "last-trade",
		Short: "print the newest journal record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(v, func(ctx context.Context, store journal.Store) error {
				rec, err := store.Last(ctx)
				if errors.Is(err, journal.ErrNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "journal is empty")
					return nil
				}
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				printTable(cmd.OutOrStdout(), []models.TradeRecord{rec})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw record")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func printTable(w io.Writer, recs []models.TradeRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCYCLE AT\tINST\tACTION\tCONF\tOUTCOME\tSTAGE\tPOSITION\tPNL\tBALANCE")
	for _, r := range recs {
		pnl := "-"
		if r.RealizedPnL.Valid {
			pnl = r.RealizedPnL.Decimal.StringFixed(2)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.CycleAt.Local().Format("2006-01-02 15:04"), r.InstID, r.Decision.Action, r.Decision.Confidence,
			r.Outcome, r.Stage, r.PositionAfter, pnl, r.Balance.StringFixed(2))
	}
	_ = tw.Flush()
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/movedispatch/config"
	"github.com/kilianp07/movedispatch/core/dispatch"
	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/infra/logger"

	_ "github.com/kilianp07/movedispatch/infra/mongo"
	_ "github.com/kilianp07/movedispatch/infra/sqlite"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue offers once against the configured store",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := ledger.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("store %s: %w", cfg.Store.Type, err)
	}
	defer store.Close()

	sw := dispatch.NewSweeper(store, events.Discard, cfg.Dispatch, logger.New("sweep-command"))
	expired, err := sw.SweepOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d offers\n", len(expired))
	return nil
}

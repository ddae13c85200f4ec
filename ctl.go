package main

import (
	"fmt"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ctlMode string

// ctlCmd queues commands for a running daemon through the shared store
var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Queue a command for the running daemon",
}

func ctlSubcommand(use, short string, cmdType models.CommandType, posArgs cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  posArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := &models.CommandParams{Mode: ctlMode}
			if len(args) == 1 {
				if _, err := uuid.Parse(args[0]); err != nil {
					return eris.Wrap(err, "parse target id")
				}
				params.TargetID = args[0]
			}

			ctx := cmd.Context()
			store, err := storage.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.EnqueueCommand(ctx, cmdType, params)
			if err != nil {
				return err
			}
			zap.L().Info("command queued", zap.Int64("id", id), zap.String("command", string(cmdType)))
			fmt.Printf("queued %s (#%d)\n", cmdType, id)
			return nil
		},
	}
}

func init() {
	scrapeNow := ctlSubcommand("scrape-now", "Run a batch with the scheduled selection", models.CmdScrapeNow, cobra.NoArgs)
	scrapeTarget := ctlSubcommand("scrape-target <target-id>", "Scrape one target", models.CmdScrapeTarget, cobra.ExactArgs(1))
	for _, c := range []*cobra.Command{scrapeNow, scrapeTarget} {
		c.Flags().StringVar(&ctlMode, "mode", "", "scrape mode override: units, amenities or full")
	}

	ctlCmd.AddCommand(
		scrapeNow,
		scrapeTarget,
		ctlSubcommand("pause", "Pause scheduled batches", models.CmdPause, cobra.NoArgs),
		ctlSubcommand("resume", "Resume scheduled batches", models.CmdResume, cobra.NoArgs),
		ctlSubcommand("reap-jobs", "Fail jobs whose heartbeat went stale", models.CmdReapJobs, cobra.NoArgs),
	)
	rootCmd.AddCommand(ctlCmd)
}

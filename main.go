package main

import (
	"os"

	"bldg_sync/config"
	"bldg_sync/logging"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg        *config.Config
	closeLogFn func()
)

var rootCmd = &cobra.Command{
	Use:   "bldg_sync",
	Short: "Building availability synchronization pipeline",
	Long: `Scrapes apartment building websites for available units, pricing and
amenities, reconciles them into the catalog and keeps an append-only price
history. Runs as a daemon (serve) or as one-shot commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		closeLog, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		closeLogFn = closeLog
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
		if closeLogFn != nil {
			closeLogFn()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"bldg_sync/config"
	"bldg_sync/models"
	"bldg_sync/scraper"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runMode      string
	runLimit     int
	runDaysStale int
	runCity      string
	runGroup     string
	scrapeMode   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one batch over the targets that are due and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		mode, ok := models.ParseScrapeMode(runMode, models.ModeUnits)
		if !ok {
			return eris.Errorf("invalid mode %q", runMode)
		}
		job, err := a.orch.RunBatch(ctx, models.Selection{
			City:      runCity,
			Group:     runGroup,
			Mode:      mode,
			Limit:     runLimit,
			DaysStale: runDaysStale,
		})
		if err != nil {
			return err
		}

		fmt.Printf("job %s %s: processed=%d succeeded=%d failed=%d\n",
			job.ID, job.Status, job.Processed, job.Succeeded, job.Failed)
		for _, e := range job.Errors {
			fmt.Printf("  %s: %s\n", e.TargetName, e.Error)
		}
		return nil
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <target-id>",
	Short: "Scrape a single target immediately, ignoring staleness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "parse target id")
		}
		mode, ok := models.ParseScrapeMode(scrapeMode, models.ModeFull)
		if !ok {
			return eris.Errorf("invalid mode %q", scrapeMode)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orch.RunTarget(ctx, id, mode)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.Success() {
			return eris.Wrapf(res.Err, "scrape %s (%s)", res.Target.Name, scraper.KindOf(res.Err))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <target-id>",
	Short: "Print the per-mode scrape status of a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "parse target id")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.status.Get(ctx, id, "")
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return eris.Errorf("no scrape status for %s", id)
		}
		return printJSON(rows)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Create or update targets from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seeds, err := config.LoadTargetSeeds(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, s := range seeds {
			t, err := targetFromSeed(s)
			if err != nil {
				return err
			}
			if err := a.store.UpsertTarget(ctx, t); err != nil {
				return eris.Wrapf(err, "upsert %s", s.Name)
			}
			zap.L().Info("seeded target", zap.String("id", t.ID.String()), zap.String("name", t.Name))
		}
		fmt.Printf("seeded %d targets\n", len(seeds))
		return nil
	},
}

// targetFromSeed keeps ids stable across re-seeds when the file omits them
func targetFromSeed(s config.TargetSeed) (*models.Target, error) {
	t := &models.Target{Name: s.Name, City: s.City, Group: s.Group}
	if s.ID != "" {
		id, err := uuid.Parse(s.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "seed %s: parse id", s.Name)
		}
		t.ID = id
	} else {
		t.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.ToLower(s.Name+"|"+s.City)))
	}
	if site := strings.TrimSpace(s.WebsiteURL); site != "" {
		t.WebsiteURL = &site
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "units", "scrape mode: units, amenities or full")
	runCmd.Flags().IntVar(&runLimit, "limit", 20, "maximum targets to process")
	runCmd.Flags().IntVar(&runDaysStale, "days-stale", 7, "only targets not attempted for this many days")
	runCmd.Flags().StringVar(&runCity, "city", "", "restrict to one city")
	runCmd.Flags().StringVar(&runGroup, "group", "", "restrict to one group")

	scrapeCmd.Flags().StringVar(&scrapeMode, "mode", "full", "scrape mode: units, amenities or full")

	rootCmd.AddCommand(runCmd, scrapeCmd, statusCmd, seedCmd)
}

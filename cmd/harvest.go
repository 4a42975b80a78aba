package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/armory/internal/harvest"
	"github.com/agentic-research/armory/internal/logging"
)

func newHarvestCmd() *cobra.Command {
	var (
		baseURL string
		dir     string
	)
	cmd := &cobra.Command{
		Use:   "harvest [output.db]",
		Short: "Fetch every record from a mirror into a SQLite dump",
		Long: `Fetch every record listed by the mirror's index into a results(id, record)
table. Existing rows with the same href are replaced, so a failed harvest can
be topped up by running it again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromCmd(cmd)
			ctx := cmd.Context()
			output := args[0]

			hc := a.cfg.Harvest
			if baseURL == "" && dir == "" {
				baseURL, dir = hc.BaseURL, hc.Dir
			}
			var fetcher harvest.Fetcher
			switch {
			case dir != "":
				fetcher = &harvest.DirFetcher{Root: dir}
			case baseURL != "":
				fetcher = harvest.NewHTTPFetcher(baseURL, a.cfg.HarvestTimeout())
			default:
				return errors.New("harvest: set --base-url or --dir (or harvest.base_url / harvest.dir)")
			}
			defer a.flushMetrics()

			start := time.Now()
			hrefs, err := fetcher.Index(ctx)
			if err != nil {
				return fmt.Errorf("read index: %w", err)
			}
			a.log.Info("harvesting", "records", len(hrefs), "workers", hc.Workers)

			h := &harvest.Harvester{
				Fetcher:    fetcher,
				Workers:    hc.Workers,
				MaxRetries: hc.MaxRetries,
				Metrics:    a.metrics,
				Log:        a.log,
			}
			results, st, err := h.Collect(ctx, hrefs)
			if err != nil {
				return err
			}
			if err := harvest.WriteDump(ctx, output, results); err != nil {
				return err
			}
			logging.Timed(a.log, "harvest written", start,
				"output", output, "fetched", st.Fetched, "missing", st.Missing,
				"failed", st.Failed, "retries", st.Retries)
			if st.Failed > 0 {
				a.log.Warn("some records were given up on; rerun harvest to top up", "failed", st.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Mirror URL serving index.json and one JSON record per href")
	cmd.Flags().StringVar(&dir, "dir", "", "Local directory of .json records")
	return cmd
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/armory/internal/consistency"
	"github.com/agentic-research/armory/internal/ingest"
	"github.com/agentic-research/armory/internal/rebuild"
)

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild [records...]",
		Short: "Reprovision the store and rebuild it from harvested records",
		Long: `Load harvested records (.json files, .db dumps or directories of either),
check that every locale's boost extraction agrees, flatten the crafting tree
and replace the fact tables. Only one rebuild runs at a time.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromCmd(cmd)
			ctx := cmd.Context()
			defer a.flushMetrics()

			recs := &ingest.Records{}
			for _, p := range args {
				r, err := ingest.Read(ctx, p)
				if err != nil {
					return err
				}
				recs.Merge(r)
			}
			a.log.Info("records loaded", "records", recs.Len(), "skipped", recs.Skipped)

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			r := &rebuild.Rebuilder{
				Store:    s,
				LockPath: a.cfg.LockFile,
				Metrics:  a.metrics,
				Log:      a.log,
			}
			res, err := r.Run(ctx, recs)
			if err != nil {
				var ce *consistency.ConsistencyError
				if errors.As(err, &ce) {
					_, _ = fmt.Fprint(cmd.ErrOrStderr(), ce.Report())
				}
				return err
			}
			_, err = fmt.Fprintf(a.out, "run %s: %d fact rows (%d without a monster), %d boosts in %s\n",
				res.RunID, res.Facts, res.Gaps, res.Boosts, res.Duration.Round(1e6))
			return err
		},
	}
}

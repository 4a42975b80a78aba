package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/report"
)

func newReportCmd() *cobra.Command {
	var (
		locale string
		format string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Query a rebuilt store",
	}
	cmd.PersistentFlags().StringVarP(&locale, "locale", "l", "", "Locale for names (default: first configured locale)")
	cmd.PersistentFlags().StringVarP(&format, "format", "f", "table", "Output format: table or json")

	// withReporter opens the store and hands a reporter to fn.
	withReporter := func(cmd *cobra.Command, fn func(ctx context.Context, r *report.Reporter) (any, error)) error {
		a := fromCmd(cmd)
		if format != "table" && format != "json" {
			return fmt.Errorf("unknown format %q", format)
		}
		s, err := a.openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		loc := a.cfg.Locales()[0]
		if locale != "" {
			if loc, err = domain.ParseLocale(locale); err != nil {
				return err
			}
		}
		r, err := report.New(s, loc, a.cfg.Server.CacheSize)
		if err != nil {
			return err
		}
		v, err := fn(cmd.Context(), r)
		if err != nil {
			return err
		}
		if format == "json" {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		return writeTable(a.out, v)
	}

	setCmd := func(use, short string, query func(r *report.Reporter, ctx context.Context, name string) (*report.Table, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [set name]",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withReporter(cmd, func(ctx context.Context, r *report.Reporter) (any, error) {
					return query(r, ctx, args[0])
				})
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "materials",
			Short: "List every material",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withReporter(cmd, func(ctx context.Context, r *report.Reporter) (any, error) {
					return r.Materials(ctx)
				})
			},
		},
		setCmd("set", "Every assembly path of a set's equipment", (*report.Reporter).Set),
		setCmd("set-materials", "Materials a set consumes and who drops them", (*report.Reporter).SetMaterials),
		setCmd("set-summary", "A set's equipment with boost levels", (*report.Reporter).SetSummary),
	)
	return cmd
}

func writeTable(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	switch v := v.(type) {
	case []string:
		for _, s := range v {
			_, _ = fmt.Fprintln(tw, s)
		}
	case *report.Table:
		_, _ = fmt.Fprintln(tw, strings.Join(v.Columns, "\t"))
		for _, row := range v.Rows {
			cells := make([]string, len(row))
			for i, c := range row {
				if c != nil {
					cells[i] = *c
				}
			}
			_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
	default:
		return fmt.Errorf("cannot render %T", v)
	}
	return tw.Flush()
}

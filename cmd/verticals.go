package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/business"
)

var verticalsCmd = &cobra.Command{
	Use:   "verticals",
	Short: "Manage the vertical lookup table",
}

// -- verticals sync --

var verticalsSyncCmd = &cobra.Command{
	Use:   "sync [name...]",
	Short: "Upsert configured vertical names",
	Long:  "Inserts every name from the verticals config key and the arguments. Existing names are left untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		names := append(append([]string{}, cfg.Verticals...), args...)
		if len(names) == 0 {
			return eris.New("verticals sync: no names configured (set verticals in config.yaml or pass names)")
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertVerticals(ctx, names)
		if err != nil {
			return eris.Wrap(err, "verticals sync")
		}
		zap.L().Info("verticals synced", zap.Int("names", len(names)), zap.Int64("inserted", n))
		return nil
	},
}

// -- verticals list --

var verticalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known verticals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		vs, err := st.ListVerticals(ctx)
		if err != nil {
			return eris.Wrap(err, "verticals list")
		}
		if len(vs) == 0 {
			fmt.Fprintln(os.Stderr, "No verticals found.")
			return nil
		}
		formatVerticals(os.Stdout, vs)
		return nil
	},
}

func formatVerticals(w io.Writer, vs []business.Vertical) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, v := range vs {
		fmt.Fprintf(tw, "%d\t%s\n", v.ID, v.Name)
	}
	_ = tw.Flush()
}

func init() {
	verticalsCmd.AddCommand(verticalsSyncCmd)
	verticalsCmd.AddCommand(verticalsListCmd)
	rootCmd.AddCommand(verticalsCmd)
}

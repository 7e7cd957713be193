package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/facturaIA/lector-ncf/internal/ledger"
)

func newLedgerCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the NCF ledger",
	}
	cmd.AddCommand(newLedgerListCmd(root), newLedgerGetCmd(root))
	return cmd
}

func newLedgerListCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded NCFs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := root.open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Ledger.List(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NCF\tRNC\tTOTAL\tREGISTRADO\tFACTURA")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.NCF, orDash(e.RNC), e.Total.StringFixed(2), e.RecordedAt.Format(time.RFC3339), e.InvoiceID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newLedgerGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get NCF",
		Short: "Show the ledger entry for one NCF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := root.open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ncf := strings.ToUpper(strings.TrimSpace(args[0]))
			e, err := a.Ledger.Get(ctx, ncf)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("NCF %s no registrado", ncf)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), e)
		},
	}
}

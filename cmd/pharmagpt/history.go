package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

var (
	historyHCP   string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print stored interactions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := st.ListInteractions(cmd.Context(), interaction.ListFilter{HCPName: historyHCP, Limit: historyLimit})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no interactions stored")
			return nil
		}
		return writeIndented(cmd.OutOrStdout(), rows)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyHCP, "hcp", "", "exact HCP name to filter on")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows to print")
}

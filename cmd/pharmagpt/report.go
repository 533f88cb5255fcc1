package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

var (
	reportFormat string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report <interaction-id>",
	Short: "Render a stored interaction as markdown or HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid interaction id %q", args[0])
		}
		st, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetInteraction(cmd.Context(), id)
		if err != nil {
			return err
		}
		out, err := renderReport(rec, reportFormat)
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), reportOutput, out)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "markdown or html")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "file to write (defaults to stdout)")
	rootCmd.AddCommand(reportCmd)
}

func renderReport(rec interaction.Record, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return []byte(interaction.BuildReportMarkdown(rec)), nil
	case "html":
		return interaction.RenderReportHTML(rec)
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

func writeReport(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

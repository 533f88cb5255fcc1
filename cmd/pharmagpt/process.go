package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

var processEdit bool

var processCmd = &cobra.Command{
	Use:   "process [text]",
	Short: "Run the pipeline once and print the response JSON",
	Long:  "Reads the interaction description from the arguments, or from stdin when none are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readText(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		ctx := interaction.WithRequestID(cmd.Context(), uuid.NewString())
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		res, err := a.pipeline.Run(ctx, interaction.Request{
			Text:    text,
			Context: map[string]any{"is_edit": processEdit},
		})
		if err != nil {
			return fmt.Errorf("process interaction: %w", err)
		}
		return writeIndented(cmd.OutOrStdout(), interaction.BuildResponse(res))
	},
}

func init() {
	processCmd.Flags().BoolVar(&processEdit, "edit", false, "apply sentiment/date edits from the text to the response")
}

func readText(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	blob, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(blob), nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}


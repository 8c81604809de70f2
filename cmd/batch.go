package main

import (
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/soilmap/internal/batch"
)

var (
	batchInput       string
	batchOutput      string
	batchFormat      string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve every coordinate in a CSV or XLSX file",
	Long:  "Reads id, latitude and longitude columns, resolves each row concurrently, and writes one result per row in input order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchConcurrency > 0 {
			cfg.Batch.Concurrency = batchConcurrency
		}
		if err := cfg.Validate("batch"); err != nil {
			return err
		}
		format, err := outputFormat(batchFormat, batchOutput)
		if err != nil {
			return err
		}

		rows, err := readBatchInput(batchInput)
		if err != nil {
			return err
		}

		e, err := buildEngine(ctx, cfg)
		if err != nil {
			return err
		}

		outcomes, sum := batch.Run(ctx, e, rows, cfg.Batch.Concurrency)
		if err := writeBatchOutput(cmd.OutOrStdout(), batchOutput, format, outcomes, sum); err != nil {
			return err
		}
		return ctx.Err()
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "input CSV or XLSX file")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "output file (default stdout; required for xlsx)")
	batchCmd.Flags().StringVar(&batchFormat, "format", "", "output format: json, csv or xlsx (default from --output extension, else json)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "rows resolved in parallel (default from config)")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

func outputFormat(format, output string) (string, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(output)) {
		case ".csv":
			format = batch.FormatCSV
		case ".xlsx":
			format = batch.FormatXLSX
		default:
			format = batch.FormatJSON
		}
	}
	switch format {
	case batch.FormatJSON, batch.FormatCSV:
		return format, nil
	case batch.FormatXLSX:
		if output == "" {
			return "", eris.New("--output is required for xlsx")
		}
		return format, nil
	default:
		return "", eris.Errorf("unknown format %q", format)
	}
}

func readBatchInput(path string) ([]batch.Row, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return batch.ReadXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open input %s", path)
	}
	defer f.Close() //nolint:errcheck
	return batch.ReadCSV(f)
}

func writeBatchOutput(stdout io.Writer, path, format string, outcomes []batch.Outcome, sum batch.Summary) error {
	if format == batch.FormatXLSX {
		return batch.WriteXLSX(path, outcomes, sum)
	}

	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create output %s", path)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	if format == batch.FormatCSV {
		return batch.WriteCSV(w, outcomes)
	}
	return batch.WriteJSON(w, outcomes, sum)
}

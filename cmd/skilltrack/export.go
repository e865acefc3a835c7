package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goodtune/skilltrack/internal/report"
	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export daily totals as CSV",
	Long:  `Write every stored day as CSV, newest first. "-" writes to stdout.`,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default learning_stats_<date>.csv)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	_, store, _, err := loadForCommand()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	dataset, err := store.Records().List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	if exportOutput == "-" {
		return report.WriteCSV(os.Stdout, dataset)
	}

	path := exportOutput
	if path == "" {
		path = report.ExportFileName(time.Now())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.WriteCSV(f, dataset); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "Exported %d days to %s\n", len(dataset), path)
	return nil
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/vflp-ligand-prep/internal/partition"
	"github.com/withObsrvr/vflp-ligand-prep/internal/report"
	"github.com/withObsrvr/vflp-ligand-prep/internal/tables"
)

type detailsOptions struct {
	workflow    string
	end         int
	parquet     string
	compression string
}

func newDetailsCmd() *cobra.Command {
	var opts detailsOptions
	cmd := &cobra.Command{
		Use:   "details <workunit>",
		Short: "Summarize the results of finished workunits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			first, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("workunit %q is not a number", args[0])
			}
			return details(cmd.Context(), cmd.OutOrStdout(), first, opts)
		},
	}
	cmd.Flags().StringVar(&opts.workflow, "workflow", defaultWorkflow, "Workflow directory")
	cmd.Flags().IntVar(&opts.end, "end", 0, "Last workunit of the range")
	cmd.Flags().StringVar(&opts.parquet, "parquet", "", "Write per-tautomer rows to this parquet file")
	cmd.Flags().StringVar(&opts.compression, "compression", tables.DefaultParquetConfig().Compression, "Parquet compression (zstd, snappy, gzip, none)")
	return cmd
}

func details(ctx context.Context, out io.Writer, first int, opts detailsOptions) error {
	job, err := readJob(opts.workflow)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(opts.workflow, StatusFile))
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	status, err := partition.ParseStatus(data)
	if err != nil {
		return fmt.Errorf("parse status: %w", err)
	}

	dir := job.SharedFSWorkflowPath
	if dir == "" {
		dir = opts.workflow
	}
	store, prefix, err := jobStore(ctx, job, dir)
	if err != nil {
		return err
	}
	defer store.Close()

	d, err := report.Collect(ctx, store, status, report.Options{
		Prefix: prefix,
		First:  first,
		Last:   opts.end,
		Rows:   opts.parquet != "",
	}, logger)
	if err != nil {
		return err
	}
	d.Print(out)

	if opts.parquet != "" {
		cfg := tables.DefaultParquetConfig()
		cfg.Compression = opts.compression
		if err := tables.WriteFile(opts.parquet, d.Rows, cfg); err != nil {
			return fmt.Errorf("write parquet: %w", err)
		}
		logger.Info("parquet written", "path", opts.parquet, "rows", len(d.Rows))
	}
	return nil
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/partition"
)

func newPrepareWorkunitsCmd() *cobra.Command {
	var workflow string
	cmd := &cobra.Command{
		Use:   "prepare-workunits",
		Short: "Partition todo.all into workunits and publish them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return prepareWorkunits(cmd.Context(), cmd.OutOrStdout(), workflow)
		},
	}
	cmd.Flags().StringVar(&workflow, "workflow", defaultWorkflow, "Workflow directory")
	return cmd
}

func prepareWorkunits(ctx context.Context, out io.Writer, workflow string) error {
	job, err := readJob(workflow)
	if err != nil {
		return err
	}
	maxSubjobs, err := job.MaxArrayJobSize()
	if err != nil {
		return err
	}

	dir := job.SharedFSWorkunitPath
	if dir == "" {
		dir = filepath.Join(workflow, WorkunitsDir)
	}
	store, _, err := jobStore(ctx, job, dir)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := partition.New(job.LigandsTodoPerQueue, maxSubjobs,
		&partition.StorePublisher{Store: store, Job: job}, partition.LibraryLocator(job), logger)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	f, err := os.Open(filepath.Join(workflow, TodoFile))
	if err != nil {
		return fmt.Errorf("open todo list: %w", err)
	}
	defer f.Close()
	entries, _, err := partition.ParseTodo(f, logger)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Generating jobfiles....")
	for i, e := range entries {
		if err := p.Add(ctx, e); err != nil {
			return err
		}
		if (i+1)%2000 == 0 {
			fmt.Fprintf(out, " (%.2f%%)\n", float64(i+1)/float64(len(entries))*100)
		}
	}
	status, err := p.Finish(ctx)
	if err != nil {
		return err
	}

	data, err := status.Marshal()
	if err != nil {
		return err
	}
	for _, name := range []string{StatusFile, StatusTodoFile} {
		if err := writeFileAtomic(filepath.Join(workflow, name), data); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Generated %d workunits\n", status.Overall.Workunits)
	logger.Info("workunits published",
		"workunits", status.Overall.Workunits,
		"subjobs", status.Overall.Subjobs,
		"collections", status.Overall.Collections,
		"ligands", status.Overall.Ligands,
	)
	return nil
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/partition"
)

// File names inside the workflow directory.
const (
	ConfigFile        = "config.json"
	TodoFile          = "todo.all"
	StatusFile        = "status.json"
	StatusTodoFile    = "status.todolists.json"
	WorkunitsDir      = "workunits"
	defaultWorkflow   = "../workflow"
	defaultControl    = "templates/all.ctrl"
	defaultTodoSource = "templates/todo.all"
)

type prepareFoldersOptions struct {
	ctrl       string
	todo       string
	workflow   string
	overwrite  bool
	skipErrors bool
}

func newPrepareFoldersCmd() *cobra.Command {
	var opts prepareFoldersOptions
	cmd := &cobra.Command{
		Use:   "prepare-folders",
		Short: "Validate the control file and create the workflow directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return prepareFolders(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.ctrl, "ctrl", defaultControl, "Control file (key=value, or YAML by extension)")
	cmd.Flags().StringVar(&opts.todo, "todo", defaultTodoSource, "Collection todo list")
	cmd.Flags().StringVar(&opts.workflow, "workflow", defaultWorkflow, "Workflow directory")
	cmd.Flags().BoolVar(&opts.overwrite, "overwrite", false, "Delete an existing workflow and all associated data")
	cmd.Flags().BoolVar(&opts.skipErrors, "skip-errors", false, "Write the workflow despite validation errors (not recommended)")
	return cmd
}

func prepareFolders(out io.Writer, opts prepareFoldersOptions) error {
	ctl, err := config.LoadControl(opts.ctrl)
	if err != nil {
		return err
	}
	problems := ctl.ValidateControl()
	job, notes, err := ctl.Job()
	if err != nil {
		return err
	}
	for _, n := range notes {
		fmt.Fprintf(out, "* %s\n", n)
	}
	var verr *config.ValidationError
	if err := job.Validate(); errors.As(err, &verr) {
		problems = append(problems, verr.Problems...)
	} else if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Fprintf(out, "* %s\n", p)
	}

	configPath := filepath.Join(opts.workflow, ConfigFile)
	if _, err := os.Stat(configPath); err == nil && !opts.overwrite {
		return fmt.Errorf("workflow already has a %s; re-run with --overwrite to delete the existing data", ConfigFile)
	}
	if len(problems) > 0 && !opts.skipErrors {
		return fmt.Errorf("%w: workflow has %d validation errors; re-run with --skip-errors if you are sure it is correct",
			config.ErrInvalidConfig, len(problems))
	}

	if err := os.RemoveAll(opts.workflow); err != nil {
		return fmt.Errorf("clear workflow: %w", err)
	}
	if err := os.MkdirAll(opts.workflow, 0755); err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}

	if job.JobStorageMode == config.StorageSharedFS {
		workunits := filepath.Join(opts.workflow, WorkunitsDir)
		if err := os.MkdirAll(workunits, 0755); err != nil {
			return err
		}
		if job.SharedFSWorkunitPath, err = filepath.Abs(workunits); err != nil {
			return err
		}
		if job.SharedFSWorkflowPath, err = filepath.Abs(opts.workflow); err != nil {
			return err
		}
		if job.SharedFSCollectionPath, err = filepath.Abs(job.CollectionFolder); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(job, "", "    ")
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	if err := writeFileAtomic(configPath, data); err != nil {
		return err
	}

	n, err := copyTodo(out, opts.todo, filepath.Join(opts.workflow, TodoFile))
	if err != nil {
		return err
	}
	logger.Info("workflow prepared", "workflow", opts.workflow, "collections", n, "storage_mode", job.JobStorageMode)
	return nil
}

// copyTodo writes the valid entries of src to dest, largest collections
// first.
func copyTodo(out io.Writer, src, dest string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open todo list: %w", err)
	}
	defer f.Close()

	entries, rejected, err := partition.ParseTodo(f, logger)
	if err != nil {
		return 0, err
	}
	for _, r := range rejected {
		fmt.Fprintf(out, "%s skipped (line %d): %s\n", firstField(r.Text), r.Line, r.Reason)
	}
	partition.SortTodo(entries)

	var b strings.Builder
	if err := partition.WriteTodo(&b, entries); err != nil {
		return 0, err
	}
	return len(entries), writeFileAtomic(dest, []byte(b.String()))
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

// writeFileAtomic writes data using temp file + rename.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

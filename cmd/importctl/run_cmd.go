package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

type jobFlags struct {
	Filename        string
	Delimiter       string
	Mapping         map[string]string
	AllOrNothing    bool
	UpdateExisting  bool
	AllowDuplicates bool
}

func (f *jobFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.Filename, "name", "", "filename recorded on the job (default: base of the path)")
	fl.StringVar(&f.Delimiter, "delimiter", "", "field delimiter (default: detect)")
	fl.StringToStringVar(&f.Mapping, "map", nil, "column overrides as header=field")
	fl.BoolVar(&f.AllOrNothing, "all-or-nothing", false, "fail the whole job on the first row error")
	fl.BoolVar(&f.UpdateExisting, "update-existing", false, "update employees that already exist")
	fl.BoolVar(&f.AllowDuplicates, "allow-duplicate", false, "accept a file already imported for this tenant")
}

func (f *jobFlags) options() core.JobOptions {
	return core.JobOptions{
		Delimiter:            f.Delimiter,
		Mapping:              f.Mapping,
		AllowPartialImport:   !f.AllOrNothing,
		UpdateExisting:       f.UpdateExisting,
		AllowDuplicateUpload: f.AllowDuplicates,
	}
}

// createAndValidate reads path, creates a job for it and validates it.
func createAndValidate(ctx context.Context, a *app, actor core.Actor, path string, f *jobFlags) ([]byte, *core.JobHandle, *core.ValidationSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	name := f.Filename
	if name == "" {
		name = filepath.Base(path)
	}

	handle, err := a.orch.CreateJob(ctx, actor, data, name, actor.TenantID, f.options())
	if err != nil {
		return nil, nil, nil, err
	}
	summary, err := a.orch.ValidateJob(ctx, actor, handle.JobID, data)
	if err != nil {
		return data, handle, nil, err
	}
	return data, handle, summary, nil
}

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var flags jobFlags

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Create a job for a file and validate it without writing employees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			_, handle, summary, err := createAndValidate(cmd.Context(), a, actor, args[0], &flags)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"job":        handle,
				"validation": summary,
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var flags jobFlags

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Create, validate and process an import in one step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), core.RunTimeout)
			defer cancel()

			data, handle, validation, err := createAndValidate(ctx, a, actor, args[0], &flags)
			if err != nil {
				return err
			}
			processing, err := a.orch.ProcessJob(ctx, actor, handle.JobID, data)
			if processing != nil {
				if perr := printJSON(cmd.OutOrStdout(), map[string]any{
					"job":        handle,
					"validation": validation,
					"processing": processing,
				}); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

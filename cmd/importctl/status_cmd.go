package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id, nil
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var showErrors bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			view, err := a.orch.GetStatus(cmd.Context(), actor, jobID)
			if err != nil {
				return err
			}
			if !showErrors {
				return printJSON(cmd.OutOrStdout(), view)
			}
			errs, err := a.orch.ListValidationErrors(cmd.Context(), actor, jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"status": view,
				"errors": errs,
			})
		},
	}
	cmd.Flags().BoolVar(&showErrors, "errors", false, "include validation errors")
	return cmd
}

func newRollbackCmd(opts *globalOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "rollback <job-id> --token <token>",
		Short: "Reverse every change a completed job made",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.orch.RequestRollback(cmd.Context(), actor, jobID, token)
			if summary != nil {
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "rollback token returned when the job completed")
	return cmd
}

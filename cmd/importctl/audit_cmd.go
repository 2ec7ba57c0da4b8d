package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

func newAuditCmd(opts *globalOptions) *cobra.Command {
	var (
		jobID   string
		actorID string
		action  string
		since   time.Duration
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the import audit trail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			filter := core.AuditFilter{
				TenantID: actor.TenantID,
				ActorID:  actorID,
				Action:   core.AuditAction(action),
				Limit:    limit,
			}
			if jobID != "" {
				id, err := parseJobID(jobID)
				if err != nil {
					return err
				}
				filter.JobID = &id
			}
			if since > 0 {
				filter.StartTime = time.Now().Add(-since)
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.orch.QueryAudit(cmd.Context(), actor, filter)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no audit entries match")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	f := cmd.Flags()
	f.StringVar(&jobID, "job", "", "only entries for this job")
	f.StringVar(&actorID, "by", "", "only entries recorded by this actor")
	f.StringVar(&action, "action", "", "only entries with this action")
	f.DurationVar(&since, "since", 0, "only entries newer than this (e.g. 24h)")
	f.IntVar(&limit, "limit", 100, "maximum entries to return")
	return cmd
}

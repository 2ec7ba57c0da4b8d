package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

type globalOptions struct {
	EnvFile  string
	TenantID string
	ActorID  string
	Role     string
	DryRun   bool
	LogLevel string
}

func (o *globalOptions) actor() (core.Actor, error) {
	if o.TenantID == "" {
		return core.Actor{}, fmt.Errorf("--tenant is required")
	}
	return core.Actor{
		ID:           o.ActorID,
		Role:         o.Role,
		TenantID:     o.TenantID,
		Capabilities: core.RoleCapabilities(o.Role),
	}, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Run, inspect and roll back employee bulk imports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := cmd.PersistentFlags()
	f.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	f.StringVar(&opts.TenantID, "tenant", os.Getenv("IMPORT_TENANT_ID"), "tenant the command acts for")
	f.StringVar(&opts.ActorID, "actor", "importctl", "actor id recorded in the audit trail")
	f.StringVar(&opts.Role, "role", "admin", "actor role (admin, hr_manager, hr, auditor)")
	f.BoolVar(&opts.DryRun, "dry-run", false, "use an in-memory store instead of the database")
	f.StringVar(&opts.LogLevel, "log-level", "warn", "log level")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newRollbackCmd(opts))
	cmd.AddCommand(newAuditCmd(opts))
	cmd.AddCommand(newRulesCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		msg := err.Error()
		if core.ErrorCode(err) != "" {
			msg = core.FormatUserError(err)
		}
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

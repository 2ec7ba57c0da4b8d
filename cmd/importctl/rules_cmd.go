package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

func newRulesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage per-tenant column mapping rules",
	}
	cmd.AddCommand(newRulesLoadCmd(opts))
	cmd.AddCommand(newRulesListCmd(opts))
	return cmd
}

func newRulesLoadCmd(opts *globalOptions) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Create mapping rules from a YAML, JSON or TOML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if check {
				rules, err := core.LoadRuleFile(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules parsed\n", args[0], len(rules))
				return nil
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

			created, conflicts, err := a.rules.ImportFile(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			for _, c := range conflicts {
				fmt.Fprintln(cmd.ErrOrStderr(), "skipped:", c)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules created, %d skipped\n", created, len(conflicts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "parse the file without touching the database")
	return cmd
}

func newRulesListCmd(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tenant's mapping rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			rules, err := a.rules.List(cmd.Context(), actor.TenantID, !all)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rules)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include deactivated rules")
	return cmd
}

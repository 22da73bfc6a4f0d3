package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// checkCmd returns the check subcommand for probing execution decisions.
func checkCmd() *cobra.Command {
	var system string
	var skill string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a system may execute a skill",
		Long: `Ask the governor whether a system may execute a skill right now. The
exit code is 0 for allow and 1 for deny, so the command works in scripts.

Examples:
  govctl check --system sys-research-1 --skill web-search`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if system == "" || skill == "" {
				return fmt.Errorf("--system and --skill are required")
			}

			client := getClient()
			dec, err := client.Check(system, skill)
			if err != nil {
				return fmt.Errorf("failed to check: %w", err)
			}

			if dec.Allowed {
				fmt.Printf("ALLOW: %s may execute %s\n", system, skill)
				return nil
			}

			fmt.Printf("DENY: %s may not execute %s\n", system, skill)
			if dec.Deny != nil {
				fmt.Printf("  failed rule: %s\n", dec.Deny.FailedRuleCategory)
				if dec.Deny.TeamID != "" {
					fmt.Printf("  at team:     %s\n", dec.Deny.TeamID)
				}
				if dec.Deny.Infrastructure {
					fmt.Println("  note: policy state was unavailable; this is a fail-closed deny")
				}
			}
			return fmt.Errorf("execution denied")
		},
	}

	cmd.Flags().StringVarP(&system, "system", "y", "", "System ID (required)")
	cmd.Flags().StringVarP(&skill, "skill", "s", "", "Skill name (required)")

	return cmd
}

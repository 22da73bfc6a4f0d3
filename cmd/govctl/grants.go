package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// grantsCmd returns the grants subcommand for managing system skill
// grants.
func grantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Manage system skill grants",
		Long:  `Manage which skills a system may actually execute.`,
	}

	cmd.AddCommand(grantsAddCmd())
	cmd.AddCommand(grantsRevokeCmd())
	cmd.AddCommand(grantsListCmd())

	return cmd
}

func grantsAddCmd() *cobra.Command {
	var system string
	var skill string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Grant a skill to a system",
		Long: `Grant a skill to a system. The skill must be inside the owning team's
envelope and the system must hold fewer than five grants.

Examples:
  govctl grants add --system sys-research-1 --skill web-search`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if system == "" || skill == "" {
				return fmt.Errorf("--system and --skill are required")
			}

			client := getClient()
			deny, err := client.AddGrant(system, skill)
			if err != nil {
				return fmt.Errorf("failed to grant skill: %w", err)
			}
			if deny != nil {
				fmt.Printf("Grant refused: %s\n", deny.FailedRuleCategory)
				fmt.Printf("  team:   %s\n", deny.TeamID)
				fmt.Printf("  system: %s\n", deny.SystemID)
				fmt.Printf("  skill:  %s\n", deny.SkillName)
				return fmt.Errorf("grant denied by %s", deny.FailedRuleCategory)
			}

			fmt.Printf("Granted %s to %s\n", skill, system)
			return nil
		},
	}

	cmd.Flags().StringVarP(&system, "system", "y", "", "System ID (required)")
	cmd.Flags().StringVarP(&skill, "skill", "s", "", "Skill name (required)")

	return cmd
}

func grantsRevokeCmd() *cobra.Command {
	var system string
	var skill string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a skill grant",
		Long: `Revoke a skill grant from a system. Takes effect on the next
execution check.

Examples:
  govctl grants revoke --system sys-research-1 --skill web-search`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if system == "" || skill == "" {
				return fmt.Errorf("--system and --skill are required")
			}

			client := getClient()
			if err := client.RemoveGrant(system, skill); err != nil {
				return fmt.Errorf("failed to revoke grant: %w", err)
			}

			fmt.Printf("Revoked %s from %s\n", skill, system)
			return nil
		},
	}

	cmd.Flags().StringVarP(&system, "system", "y", "", "System ID (required)")
	cmd.Flags().StringVarP(&skill, "skill", "s", "", "Skill name (required)")

	return cmd
}

func grantsListCmd() *cobra.Command {
	var system string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a system's grants",
		Long: `List every skill granted to a system.

Examples:
  govctl grants list --system sys-research-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if system == "" {
				return fmt.Errorf("--system is required")
			}

			client := getClient()
			skills, err := client.ListGrants(system)
			if err != nil {
				return fmt.Errorf("failed to list grants: %w", err)
			}

			if len(skills) == 0 {
				fmt.Printf("%s holds no grants.\n", system)
				return nil
			}

			fmt.Printf("Grants of %s (%d of 5):\n", system, len(skills))
			fmt.Println(strings.Repeat("-", 40))
			for i, skill := range skills {
				fmt.Printf("%3d. %s\n", i+1, skill)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&system, "system", "y", "", "System ID (required)")

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// orgCmd returns the org subcommand for registering teams and systems.
func orgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Register teams and systems",
		Long:  `Register teams and the systems they own on the governor.`,
	}

	cmd.AddCommand(orgCreateTeamCmd())
	cmd.AddCommand(orgCreateSystemCmd())

	return cmd
}

func orgCreateTeamCmd() *cobra.Command {
	var team string

	cmd := &cobra.Command{
		Use:   "create-team",
		Short: "Register a new team",
		Long: `Register a new team. The team starts with an empty envelope and no
systems.

Examples:
  govctl org create-team --team team-research`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" {
				return fmt.Errorf("--team is required")
			}

			client := getClient()
			if err := client.CreateTeam(team); err != nil {
				return fmt.Errorf("failed to create team: %w", err)
			}

			fmt.Printf("Created team %s\n", team)
			return nil
		},
	}

	cmd.Flags().StringVarP(&team, "team", "t", "", "Team ID (required)")

	return cmd
}

func orgCreateSystemCmd() *cobra.Command {
	var team string
	var system string

	cmd := &cobra.Command{
		Use:   "create-system",
		Short: "Register a new system under a team",
		Long: `Register a new system under an existing team. A team owns at most five
systems.

Examples:
  govctl org create-system --team team-research --system sys-research-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || system == "" {
				return fmt.Errorf("--team and --system are required")
			}

			client := getClient()
			if err := client.CreateSystem(team, system); err != nil {
				return fmt.Errorf("failed to create system: %w", err)
			}

			fmt.Printf("Created system %s in team %s\n", system, team)
			return nil
		},
	}

	cmd.Flags().StringVarP(&team, "team", "t", "", "Team ID (required)")
	cmd.Flags().StringVarP(&system, "system", "y", "", "System ID (required)")

	return cmd
}

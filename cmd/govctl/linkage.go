package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// linkageCmd returns the linkage subcommand for recursion linkages.
func linkageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkage",
		Short: "Manage recursion linkages",
		Long:  `Record and inspect the linkage from a recursed sub-team back to its origin system.`,
	}

	cmd.AddCommand(linkageCreateCmd())
	cmd.AddCommand(linkageShowCmd())

	return cmd
}

func linkageCreateCmd() *cobra.Command {
	var subTeam string
	var origin string
	var parent string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a sub-team's recursion linkage",
		Long: `Record that a sub-team was created by recursing a system of its parent
team. The linkage is immutable once recorded.

Examples:
  govctl linkage create --sub-team team-research-2 --origin sys-research-1 --parent team-research`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subTeam == "" || origin == "" || parent == "" {
				return fmt.Errorf("--sub-team, --origin and --parent are required")
			}

			client := getClient()
			if err := client.Link(subTeam, origin, parent); err != nil {
				return fmt.Errorf("failed to create linkage: %w", err)
			}

			fmt.Printf("Linked %s -> %s (origin %s)\n", subTeam, parent, origin)
			return nil
		},
	}

	cmd.Flags().StringVar(&subTeam, "sub-team", "", "Sub-team ID (required)")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin system ID (required)")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent team ID (required)")

	return cmd
}

func linkageShowCmd() *cobra.Command {
	var team string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a team's recursion linkage",
		Long: `Show where a sub-team came from, or report that the team is not a
recursion product.

Examples:
  govctl linkage show --team team-research-2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" {
				return fmt.Errorf("--team is required")
			}

			client := getClient()
			link, err := client.ResolveLinkage(team)
			if err != nil {
				return fmt.Errorf("failed to resolve linkage: %w", err)
			}
			if link == nil {
				fmt.Printf("%s is not a recursion product.\n", team)
				return nil
			}

			fmt.Printf("Linkage of %s:\n", team)
			fmt.Printf("  origin system: %s\n", link.OriginSystemID)
			fmt.Printf("  parent team:   %s\n", link.ParentTeamID)
			fmt.Printf("  created at:    %s\n", link.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&team, "team", "t", "", "Team ID (required)")

	return cmd
}

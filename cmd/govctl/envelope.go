package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// envelopeCmd returns the envelope subcommand for managing team skill
// envelopes.
func envelopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envelope",
		Short: "Manage team skill envelopes",
		Long:  `Manage which skills a team's systems may ever be granted.`,
	}

	cmd.AddCommand(envelopeAllowCmd())
	cmd.AddCommand(envelopeRemoveCmd())
	cmd.AddCommand(envelopeListCmd())

	return cmd
}

func envelopeAllowCmd() *cobra.Command {
	var team string
	var skill string

	cmd := &cobra.Command{
		Use:   "allow",
		Short: "Add a skill to a team's envelope",
		Long: `Add a skill to a team's envelope so its systems become grantable for it.

Examples:
  govctl envelope allow --team team-research --skill web-search`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || skill == "" {
				return fmt.Errorf("--team and --skill are required")
			}

			client := getClient()
			if err := client.AddEnvelopeSkill(team, skill); err != nil {
				return fmt.Errorf("failed to add envelope skill: %w", err)
			}

			fmt.Printf("Envelope of %s now allows %s\n", team, skill)
			return nil
		},
	}

	cmd.Flags().StringVarP(&team, "team", "t", "", "Team ID (required)")
	cmd.Flags().StringVarP(&skill, "skill", "s", "", "Skill name (required)")

	return cmd
}

func envelopeRemoveCmd() *cobra.Command {
	var team string
	var skill string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a skill from a team's envelope",
		Long: `Remove a skill from a team's envelope. Every grant of that skill held
by the team's systems is revoked in the same operation.

Examples:
  govctl envelope remove --team team-research --skill web-search`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || skill == "" {
				return fmt.Errorf("--team and --skill are required")
			}

			client := getClient()
			revoked, err := client.RemoveEnvelopeSkill(team, skill)
			if err != nil {
				return fmt.Errorf("failed to remove envelope skill: %w", err)
			}

			fmt.Printf("Envelope of %s no longer allows %s\n", team, skill)
			if revoked > 0 {
				fmt.Printf("Cascade-revoked %d dependent grant(s)\n", revoked)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&team, "team", "t", "", "Team ID (required)")
	cmd.Flags().StringVarP(&skill, "skill", "s", "", "Skill name (required)")

	return cmd
}

func envelopeListCmd() *cobra.Command {
	var team string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a team's envelope",
		Long: `List every skill a team's envelope allows.

Examples:
  govctl envelope list --team team-research`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" {
				return fmt.Errorf("--team is required")
			}

			client := getClient()
			skills, err := client.ListEnvelope(team)
			if err != nil {
				return fmt.Errorf("failed to list envelope: %w", err)
			}

			if len(skills) == 0 {
				fmt.Printf("Envelope of %s is empty.\n", team)
				return nil
			}

			fmt.Printf("Envelope of %s (%d skills):\n", team, len(skills))
			fmt.Println(strings.Repeat("-", 40))
			for i, skill := range skills {
				fmt.Printf("%3d. %s\n", i+1, skill)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&team, "team", "t", "", "Team ID (required)")

	return cmd
}

package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session management",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsApproveCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Sessions []struct {
					ID             string    `json:"id"`
					UserName       string    `json:"userName"`
					Paired         bool      `json:"paired"`
					LastActivityAt time.Time `json:"lastActivityAt"`
				} `json:"sessions"`
			}
			if err := apiGet("/api/sessions", &out); err != nil {
				return err
			}
			for _, s := range out.Sessions {
				paired := "unpaired"
				if s.Paired {
					paired = "paired"
				}
				fmt.Printf("%-50s %-16s %-9s last active %s\n", s.ID, s.UserName, paired, s.LastActivityAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func sessionsApproveCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "approve <session-id>",
		Short: "Manually approve (pair) a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !yes {
				confirmed := false
				prompt := huh.NewConfirm().
					Title(fmt.Sprintf("Approve session %s?", id)).
					Description("The session joins the allowlist and its messages reach the agent.").
					Value(&confirmed)
				if err := prompt.Run(); err != nil {
					return err
				}
				if !confirmed {
					fmt.Println("Aborted.")
					return nil
				}
			}
			if err := apiPost("/api/sessions/"+id+"/approve", nil); err != nil {
				return err
			}
			fmt.Printf("Session %s approved.\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Destroy a session and its message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiDelete("/api/sessions/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Session %s deleted.\n", args[0])
			return nil
		},
	}
}

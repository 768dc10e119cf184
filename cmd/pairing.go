package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Companion-node pairing management",
	}
	cmd.AddCommand(pairingGenerateCmd())
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func pairingGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a one-shot node pairing code",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Code      string `json:"code"`
				ExpiresIn int    `json:"expiresIn"`
			}
			if err := apiPost("/api/pairing/generate", &out); err != nil {
				return err
			}
			fmt.Printf("Pairing code: %s (valid for %s)\n", out.Code, time.Duration(out.ExpiresIn)*time.Second)
			return nil
		},
	}
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Nodes []struct {
					ID           string   `json:"id"`
					Name         string   `json:"name"`
					Type         string   `json:"type"`
					Status       string   `json:"status"`
					Capabilities []string `json:"capabilities"`
				} `json:"nodes"`
			}
			if err := apiGet("/api/nodes", &out); err != nil {
				return err
			}
			for _, n := range out.Nodes {
				fmt.Printf("%-40s %-10s %-8s %s  caps=%v\n", n.ID, n.Name, n.Type, n.Status, n.Capabilities)
			}
			return nil
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <node-id>",
		Short: "Disconnect a node and revoke its approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiDelete("/api/nodes/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Node %s disconnected and revoked.\n", args[0])
			return nil
		},
	}
}

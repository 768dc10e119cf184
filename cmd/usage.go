package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/usage"
)

func usageCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show API usage and cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Hours int         `json:"hours"`
				Stats usage.Stats `json:"stats"`
			}
			if err := apiGet(fmt.Sprintf("/api/usage?hours=%d", hours), &out); err != nil {
				return err
			}
			s := out.Stats
			fmt.Printf("Last %dh: %d calls (%d ok, %d failed), %d tokens, $%.4f, mean latency %.0fms\n",
				out.Hours, s.TotalCalls, s.SuccessCalls, s.FailedCalls, s.TotalTokens, s.TotalCost, s.MeanLatencyMS)
			for provider, ps := range s.ByProvider {
				fmt.Printf("  %-12s %d calls, %d tokens, $%.4f, mean latency %.0fms\n",
					provider, ps.Calls, ps.Tokens, ps.Cost, ps.MeanLatencyMS)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "look-back window in hours")
	return cmd
}

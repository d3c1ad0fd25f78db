package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"castbot/internal/app"
	"castbot/internal/campaign"
	logx "castbot/pkg/logx"
)

// campaignsCmd inspects the store without connecting to Telegram.
var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Inspect stored broadcasts",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored broadcasts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := app.LoadCampaigns(cmd.Context(), cfgPath, logx.Nop())
		if err != nil {
			return err
		}
		if len(cs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no broadcasts")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tRUNNING\tCHATS\tMESSAGES\tINTERVAL")
		for _, c := range cs {
			fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%dm\n", c.Code, c.Running, len(c.Chats), len(c.Messages), c.IntervalSeconds/60)
		}
		return w.Flush()
	},
}

type campaignDump struct {
	Code string `json:"code"`
	campaign.Campaign
	Stats []campaign.Stat `json:"stats"`
}

var campaignsShowCmd = &cobra.Command{
	Use:   "show CODE",
	Short: "Print one broadcast as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := app.LoadCampaigns(cmd.Context(), cfgPath, logx.Nop())
		if err != nil {
			return err
		}
		for _, c := range cs {
			if c.Code != args[0] {
				continue
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(campaignDump{Code: c.Code, Campaign: c, Stats: c.Stats()})
		}
		return fmt.Errorf("campaign %s: %w", args[0], campaign.ErrNotFound)
	},
}

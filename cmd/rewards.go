package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/pkg/ledger"
	"github.com/spf13/cobra"
)

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Inspect the reward ledger",
}

var rewardsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show unpaid reward totals per token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewConfig()
		ctx := context.Background()
		l := newLogger(cfg, "rewards")

		grm, err := openDatabase(cfg, l)
		if err != nil {
			return err
		}
		lg := ledger.NewLedger(grm, l)

		stakeTotals, err := lg.PendingStakeTotals(ctx)
		if err != nil {
			return err
		}
		referralTotals, err := lg.PendingReferralTotals(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tTOKEN\tRECORDS\tOWED")
		for _, t := range stakeTotals {
			fmt.Fprintf(w, "stake\t%s\t%d\t%s\n", t.TokenAddress, t.Records, t.Total)
		}
		for _, t := range referralTotals {
			fmt.Fprintf(w, "referral\t%s\t%d\t%s\n", t.TokenAddress, t.Records, t.Total)
		}
		return w.Flush()
	},
}

func init() {
	rewardsCmd.AddCommand(rewardsPendingCmd)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/pkg/referrals"
	"github.com/spf13/cobra"
)

var referralCmd = &cobra.Command{
	Use:   "referral",
	Short: "Manage referral links",
}

var referralLinkCmd = &cobra.Command{
	Use:   "link <referrer> <referral>",
	Short: "Record that referrer brought in referral",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewConfig()
		l := newLogger(cfg, "referral")

		grm, err := openDatabase(cfg, l)
		if err != nil {
			return err
		}

		inserted, err := referrals.NewResolver(grm, l).LinkReferral(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if !inserted {
			fmt.Printf("%s already has a referrer\n", args[1])
			return nil
		}
		fmt.Printf("Linked %s -> %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	referralCmd.AddCommand(referralLinkCmd)
}

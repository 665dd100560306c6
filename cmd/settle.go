package cmd

import (
	"context"
	"fmt"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/pkg/settlement"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const settleKindFlag = "kind"

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run one settlement immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewConfig()
		ctx := context.Background()
		l := newLogger(cfg, "settle")

		kind, err := cmd.Flags().GetString(settleKindFlag)
		if err != nil {
			return err
		}

		sink, _, err := newMetricsSink(cfg, l)
		if err != nil {
			return err
		}
		grm, err := openDatabase(cfg, l)
		if err != nil {
			return err
		}
		batcher, err := newBatcher(cfg, grm, sink, l)
		if err != nil {
			return err
		}

		var result *settlement.RunResult
		switch settlement.Kind(kind) {
		case settlement.Kind_Stake:
			result, err = batcher.SettleStakeRewards(ctx)
		case settlement.Kind_Referral:
			result, err = batcher.DistributeReferralRewards(ctx)
		default:
			return fmt.Errorf("unknown settlement kind '%s'", kind)
		}
		if err != nil {
			l.Sugar().Errorw("Settlement failed", zap.String("kind", kind), zap.Error(err))
			return err
		}

		fmt.Printf("Run: %s\nKind: %s\nRecords: %d\nTransfers: %d\nApprovals: %v\nTx: %s\nSettled: %d\nReconciled: %d\nSimulated: %v\n",
			result.RunId, result.Kind, result.Records, result.Transfers, result.Approvals, result.TxHash, result.Settled, result.Reconciled, result.Simulated)
		return nil
	},
}

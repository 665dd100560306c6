package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/lira-dao/staking-sidecar/internal/tests/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*Ledger, *gorm.DB) {
	l := zap.NewNop()
	grm, err := sqlite.GetInMemorySqliteDatabaseConnection(l)
	require.Nil(t, err)
	return NewLedger(grm, l), grm
}

func newStakeReward(staker string, txId string, reward string) *StakeReward {
	return &StakeReward{
		StakerAddress:   staker,
		ReferrerAddress: "0xaaaa",
		TokenAddress:    "0xtoken",
		StakedAmount:    "1000",
		RewardAmount:    reward,
		StakingTxId:     txId,
	}
}

func Test_StakeRewards(t *testing.T) {
	ctx := context.Background()

	t.Run("Should insert a stake reward once per staker", func(t *testing.T) {
		lg, _ := setup(t)

		inserted, err := lg.InsertStakeReward(ctx, newStakeReward("0xb", "0xtx1", "100"))
		require.Nil(t, err)
		assert.True(t, inserted)

		inserted, err = lg.InsertStakeReward(ctx, newStakeReward("0xb", "0xtx2", "300"))
		require.Nil(t, err)
		assert.False(t, inserted)

		has, err := lg.HasStakeReward(ctx, "0xb")
		require.Nil(t, err)
		assert.True(t, has)

		pending, err := lg.SelectPendingStakeRewards(ctx)
		require.Nil(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "100", pending[0].RewardAmount)
		assert.Equal(t, "0xtx1", pending[0].StakingTxId)
	})
	t.Run("Should treat a redelivered staking tx as a no-op", func(t *testing.T) {
		lg, _ := setup(t)

		_, err := lg.InsertStakeReward(ctx, newStakeReward("0xb", "0xtx1", "100"))
		require.Nil(t, err)

		inserted, err := lg.InsertStakeReward(ctx, newStakeReward("0xc", "0xtx1", "100"))
		require.Nil(t, err)
		assert.False(t, inserted)
	})
	t.Run("Should keep one record under concurrent inserts for the same staker", func(t *testing.T) {
		lg, grm := setup(t)

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := lg.InsertStakeReward(ctx, newStakeReward("0xb", fmt.Sprintf("0xtx%d", i), "100"))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.Nil(t, err)
		}

		var count int64
		grm.Model(&StakeReward{}).Where("staker_address = ?", "0xb").Count(&count)
		assert.Equal(t, int64(1), count)
	})
	t.Run("Should mark only pending records and ignore a replay", func(t *testing.T) {
		lg, _ := setup(t)

		first := newStakeReward("0xb", "0xtx1", "100")
		second := newStakeReward("0xc", "0xtx2", "200")
		_, err := lg.InsertStakeReward(ctx, first)
		require.Nil(t, err)
		_, err = lg.InsertStakeReward(ctx, second)
		require.Nil(t, err)

		updated, err := lg.MarkStakeRewardsSettled(ctx, []uint64{first.Id, second.Id}, "0xsettle1")
		require.Nil(t, err)
		assert.Equal(t, int64(2), updated)

		updated, err = lg.MarkStakeRewardsSettled(ctx, []uint64{first.Id, second.Id}, "0xsettle2")
		require.Nil(t, err)
		assert.Equal(t, int64(0), updated)

		pending, err := lg.SelectPendingStakeRewards(ctx)
		require.Nil(t, err)
		assert.Len(t, pending, 0)

		var stored StakeReward
		require.Nil(t, lg.db.First(&stored, first.Id).Error)
		require.NotNil(t, stored.RewardTxId)
		assert.Equal(t, "0xsettle1", *stored.RewardTxId)
	})
	t.Run("Should total pending rewards per token", func(t *testing.T) {
		lg, _ := setup(t)

		_, err := lg.InsertStakeReward(ctx, newStakeReward("0xb", "0xtx1", "100"))
		require.Nil(t, err)
		_, err = lg.InsertStakeReward(ctx, newStakeReward("0xc", "0xtx2", "200"))
		require.Nil(t, err)

		totals, err := lg.PendingStakeTotals(ctx)
		require.Nil(t, err)
		require.Len(t, totals, 1)
		assert.Equal(t, "300", totals[0].Total)
		assert.Equal(t, 2, totals[0].Records)
	})
}

func Test_ReferralRewards(t *testing.T) {
	ctx := context.Background()

	newReferralReward := func(referrer string, level int, amounts ...string) *ReferralReward {
		return &ReferralReward{
			ReferrerAddress: referrer,
			TokenAddresses:  StringList{"0xldt", "0xpooltoken"},
			Amounts:         StringList(amounts),
			HarvestTxId:     "0xharvest",
			Level:           level,
		}
	}

	t.Run("Should insert once per referrer, harvest and level", func(t *testing.T) {
		lg, _ := setup(t)

		inserted, err := lg.InsertReferralReward(ctx, newReferralReward("0xb", 1, "25", "12"))
		require.Nil(t, err)
		assert.True(t, inserted)

		inserted, err = lg.InsertReferralReward(ctx, newReferralReward("0xb", 1, "25", "12"))
		require.Nil(t, err)
		assert.False(t, inserted)

		inserted, err = lg.InsertReferralReward(ctx, newReferralReward("0xa", 2, "15", "7"))
		require.Nil(t, err)
		assert.True(t, inserted)

		pending, err := lg.SelectPendingReferralRewards(ctx)
		require.Nil(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, StringList{"0xldt", "0xpooltoken"}, pending[0].TokenAddresses)
		assert.Equal(t, StringList{"25", "12"}, pending[0].Amounts)
		assert.Equal(t, ReferralRewardStatus_Pending, pending[0].Status)
	})
	t.Run("Should reject mismatched token and amount lists", func(t *testing.T) {
		lg, _ := setup(t)

		_, err := lg.InsertReferralReward(ctx, newReferralReward("0xb", 1, "25"))
		assert.NotNil(t, err)
	})
	t.Run("Should mark referral rewards distributed once", func(t *testing.T) {
		lg, _ := setup(t)

		r := newReferralReward("0xb", 1, "25", "12")
		_, err := lg.InsertReferralReward(ctx, r)
		require.Nil(t, err)

		updated, err := lg.MarkReferralRewardsDistributed(ctx, []uint64{r.Id}, "0xdist")
		require.Nil(t, err)
		assert.Equal(t, int64(1), updated)

		updated, err = lg.MarkReferralRewardsDistributed(ctx, []uint64{r.Id}, "0xdist2")
		require.Nil(t, err)
		assert.Equal(t, int64(0), updated)

		var stored ReferralReward
		require.Nil(t, lg.db.First(&stored, r.Id).Error)
		assert.Equal(t, ReferralRewardStatus_Distributed, stored.Status)
		require.NotNil(t, stored.RewardTxId)
		assert.Equal(t, "0xdist", *stored.RewardTxId)
		assert.NotNil(t, stored.DistributedAt)
	})
	t.Run("Should total pending referral rewards per token", func(t *testing.T) {
		lg, _ := setup(t)

		_, err := lg.InsertReferralReward(ctx, newReferralReward("0xb", 1, "25", "12"))
		require.Nil(t, err)
		_, err = lg.InsertReferralReward(ctx, newReferralReward("0xa", 2, "15", "7"))
		require.Nil(t, err)

		totals, err := lg.PendingReferralTotals(ctx)
		require.Nil(t, err)
		require.Len(t, totals, 2)
		assert.Equal(t, "0xldt", totals[0].TokenAddress)
		assert.Equal(t, "40", totals[0].Total)
		assert.Equal(t, "0xpooltoken", totals[1].TokenAddress)
		assert.Equal(t, "19", totals[1].Total)
	})
}

func Test_SettlementRuns(t *testing.T) {
	ctx := context.Background()

	t.Run("Should list a broadcast run until it is finished", func(t *testing.T) {
		lg, _ := setup(t)

		require.Nil(t, lg.RecordSettlementRun(ctx, &SettlementRun{
			RunId:     "run-1",
			Kind:      "stake",
			TxHash:    "0xabc",
			RawTx:     "0x02f8",
			RecordIds: IdList{3, 1, 2},
		}))

		open, err := lg.SelectOpenSettlementRuns(ctx, "stake")
		require.Nil(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "0xabc", open[0].TxHash)
		assert.Equal(t, IdList{3, 1, 2}, open[0].RecordIds)
		assert.Equal(t, SettlementRunStatus_Broadcast, open[0].Status)

		other, err := lg.SelectOpenSettlementRuns(ctx, "referral")
		require.Nil(t, err)
		assert.Len(t, other, 0)

		require.Nil(t, lg.FinishSettlementRun(ctx, "run-1", SettlementRunStatus_Recorded))
		open, err = lg.SelectOpenSettlementRuns(ctx, "stake")
		require.Nil(t, err)
		assert.Len(t, open, 0)
	})
	t.Run("Should not reopen or overwrite a finished run", func(t *testing.T) {
		lg, grm := setup(t)

		require.Nil(t, lg.RecordSettlementRun(ctx, &SettlementRun{RunId: "run-2", Kind: "referral", TxHash: "0xdef", RawTx: "0x02", RecordIds: IdList{1}}))
		require.Nil(t, lg.FinishSettlementRun(ctx, "run-2", SettlementRunStatus_Abandoned))
		require.Nil(t, lg.FinishSettlementRun(ctx, "run-2", SettlementRunStatus_Recorded))

		var run SettlementRun
		require.Nil(t, grm.Where("run_id = ?", "run-2").First(&run).Error)
		assert.Equal(t, SettlementRunStatus_Abandoned, run.Status)
	})
	t.Run("Should refuse a second row for the same run", func(t *testing.T) {
		lg, _ := setup(t)

		run := &SettlementRun{RunId: "run-3", Kind: "stake", TxHash: "0x1", RawTx: "0x02", RecordIds: IdList{1}}
		require.Nil(t, lg.RecordSettlementRun(ctx, run))
		assert.NotNil(t, lg.RecordSettlementRun(ctx, &SettlementRun{RunId: "run-3", Kind: "stake", TxHash: "0x1", RawTx: "0x02", RecordIds: IdList{1}}))
	})
}

package rewards

import (
	"context"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/internal/tests/sqlite"
	"github.com/lira-dao/staking-sidecar/pkg/ledger"
	"github.com/lira-dao/staking-sidecar/pkg/referrals"
	"github.com/lira-dao/staking-sidecar/pkg/stakingEvents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	walletA = "0x000000000000000000000000000000000000000a"
	walletB = "0x000000000000000000000000000000000000000b"
	walletC = "0x000000000000000000000000000000000000000c"
	walletD = "0x000000000000000000000000000000000000000d"

	poolAddress = "0x00000000000000000000000000000000000000f1"
	poolToken   = "0x00000000000000000000000000000000000000e1"
	rewardToken = "0x00000000000000000000000000000000000000e0"
	unknownPool = "0x00000000000000000000000000000000000000f9"
)

func testConfig() *config.Config {
	return &config.Config{
		StakingConfig: config.StakingConfig{
			Pools:              []config.Pool{{Address: poolAddress, TokenAddress: poolToken}},
			RewardTokenAddress: rewardToken,
		},
	}
}

type fixture struct {
	accountant *Accountant
	ledger     *ledger.Ledger
	resolver   *referrals.Resolver
}

func setup(t *testing.T) *fixture {
	l := zap.NewNop()
	grm, err := sqlite.GetInMemorySqliteDatabaseConnection(l)
	require.Nil(t, err)

	lg := ledger.NewLedger(grm, l)
	resolver := referrals.NewResolver(grm, l)
	return &fixture{
		accountant: NewAccountant(resolver, lg, testConfig(), nil, l),
		ledger:     lg,
		resolver:   resolver,
	}
}

func (f *fixture) link(t *testing.T, referrer, referral string) {
	_, err := f.resolver.LinkReferral(context.Background(), referrer, referral)
	require.Nil(t, err)
}

func stakeEvent(wallet string, amount int64, txId string) *stakingEvents.StakeEvent {
	return &stakingEvents.StakeEvent{
		EventMeta: stakingEvents.EventMeta{Pool: poolAddress, TxId: txId},
		Wallet:    wallet,
		Amount:    big.NewInt(amount),
	}
}

func harvestEvent(wallet string, amount1, amount2 int64, txId string) *stakingEvents.HarvestEvent {
	return &stakingEvents.HarvestEvent{
		EventMeta:    stakingEvents.EventMeta{Pool: poolAddress, TxId: txId},
		Wallet:       wallet,
		AmountToken1: big.NewInt(amount1),
		AmountToken2: big.NewInt(amount2),
	}
}

func Test_ComputeStakeReward(t *testing.T) {
	t.Run("Should pay ten percent rounded down", func(t *testing.T) {
		assert.Equal(t, "100", ComputeStakeReward(big.NewInt(1000)).String())
		assert.Equal(t, "0", ComputeStakeReward(big.NewInt(9)).String())
		assert.Equal(t, "1", ComputeStakeReward(big.NewInt(19)).String())
	})
	t.Run("Should not overflow on 256-bit amounts", func(t *testing.T) {
		amount, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
		require.True(t, ok)
		reward := ComputeStakeReward(amount)
		assert.Equal(t, "11579208923731619542357098500868790785326998466564056403945758400791312963993", reward.String())
	})
}

func Test_ComputeReferralRewards(t *testing.T) {
	tokens := []string{rewardToken, poolToken}

	t.Run("Should compute a commission per level", func(t *testing.T) {
		b, a, z := walletB, walletA, walletD
		lineage := &referrals.Lineage{Level1: &b, Level2: &a, Level3: &z}

		out, err := ComputeReferralRewards(lineage, tokens, []*big.Int{big.NewInt(1000), big.NewInt(500)})
		require.Nil(t, err)
		require.Len(t, out, 3)

		assert.Equal(t, 1, out[0].Level)
		assert.Equal(t, walletB, out[0].Referrer)
		assert.Equal(t, "25", out[0].Amounts[0].String())
		assert.Equal(t, "12", out[0].Amounts[1].String())

		assert.Equal(t, 2, out[1].Level)
		assert.Equal(t, "15", out[1].Amounts[0].String())
		assert.Equal(t, "7", out[1].Amounts[1].String())

		assert.Equal(t, 3, out[2].Level)
		assert.Equal(t, "10", out[2].Amounts[0].String())
		assert.Equal(t, "5", out[2].Amounts[1].String())
	})
	t.Run("Should return nothing for an empty lineage", func(t *testing.T) {
		out, err := ComputeReferralRewards(&referrals.Lineage{}, tokens, []*big.Int{big.NewInt(1000), big.NewInt(500)})
		require.Nil(t, err)
		assert.Len(t, out, 0)
	})
	t.Run("Should reject mismatched tokens and amounts", func(t *testing.T) {
		b := walletB
		_, err := ComputeReferralRewards(&referrals.Lineage{Level1: &b}, tokens, []*big.Int{big.NewInt(1000)})
		require.NotNil(t, err)
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
		assert.Equal(t, walletB, validationErr.Referrer)
	})
	t.Run("Should reject negative amounts", func(t *testing.T) {
		b := walletB
		_, err := ComputeReferralRewards(&referrals.Lineage{Level1: &b}, tokens, []*big.Int{big.NewInt(-1), big.NewInt(0)})
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})
}

func Test_RewardProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("stake reward never exceeds a tenth of the stake", prop.ForAll(
		func(amount uint64) bool {
			staked := new(big.Int).SetUint64(amount)
			reward := ComputeStakeReward(staked)
			tenTimes := new(big.Int).Mul(reward, big.NewInt(10))
			remainder := new(big.Int).Sub(staked, tenTimes)
			return remainder.Sign() >= 0 && remainder.Cmp(big.NewInt(10)) < 0
		},
		gen.UInt64(),
	))

	properties.Property("commissions decrease with level and never exceed the harvest", prop.ForAll(
		func(amount1, amount2 uint64) bool {
			b, a, z := walletB, walletA, walletD
			lineage := &referrals.Lineage{Level1: &b, Level2: &a, Level3: &z}
			harvested := []*big.Int{new(big.Int).SetUint64(amount1), new(big.Int).SetUint64(amount2)}
			out, err := ComputeReferralRewards(lineage, []string{rewardToken, poolToken}, harvested)
			if err != nil || len(out) != 3 {
				return false
			}
			for i := range harvested {
				total := new(big.Int)
				for level, r := range out {
					total.Add(total, r.Amounts[i])
					if level > 0 && r.Amounts[i].Cmp(out[level-1].Amounts[i]) > 0 {
						return false
					}
				}
				if total.Cmp(harvested[i]) > 0 {
					return false
				}
			}
			return true
		},
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func Test_Accountant(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reward a referred staker's first stake", func(t *testing.T) {
		f := setup(t)
		f.link(t, walletA, walletB)

		require.Nil(t, f.accountant.HandleEvent(ctx, stakeEvent(walletB, 1000, "0x01")))

		pending, err := f.ledger.SelectPendingStakeRewards(ctx)
		require.Nil(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, walletB, pending[0].StakerAddress)
		assert.Equal(t, walletA, pending[0].ReferrerAddress)
		assert.Equal(t, poolToken, pending[0].TokenAddress)
		assert.Equal(t, "1000", pending[0].StakedAmount)
		assert.Equal(t, "100", pending[0].RewardAmount)
		assert.Equal(t, "0x01", pending[0].StakingTxId)
		assert.Nil(t, pending[0].RewardTxId)
	})
	t.Run("Should not reward a staker without a referrer", func(t *testing.T) {
		f := setup(t)

		require.Nil(t, f.accountant.HandleEvent(ctx, stakeEvent(walletB, 1000, "0x01")))

		pending, err := f.ledger.SelectPendingStakeRewards(ctx)
		require.Nil(t, err)
		assert.Len(t, pending, 0)
	})
	t.Run("Should only reward the first stake", func(t *testing.T) {
		f := setup(t)
		f.link(t, walletA, walletB)

		require.Nil(t, f.accountant.HandleEvent(ctx, stakeEvent(walletB, 1000, "0x01")))
		require.Nil(t, f.accountant.HandleEvent(ctx, stakeEvent(walletB, 5000, "0x02")))
		require.Nil(t, f.accountant.HandleEvent(ctx, stakeEvent(walletB, 1000, "0x01")))

		pending, err := f.ledger.SelectPendingStakeRewards(ctx)
		require.Nil(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "100", pending[0].RewardAmount)
	})
	t.Run("Should fail for a pool that is not configured", func(t *testing.T) {
		f := setup(t)
		f.link(t, walletA, walletB)

		ev := stakeEvent(walletB, 1000, "0x01")
		ev.Pool = unknownPool
		assert.NotNil(t, f.accountant.HandleEvent(ctx, ev))
	})
	t.Run("Should record a commission for each referrer in the lineage", func(t *testing.T) {
		f := setup(t)
		f.link(t, walletA, walletB)
		f.link(t, walletB, walletC)

		require.Nil(t, f.accountant.HandleEvent(ctx, harvestEvent(walletC, 1000, 500, "0x0h")))

		pending, err := f.ledger.SelectPendingReferralRewards(ctx)
		require.Nil(t, err)
		require.Len(t, pending, 2)

		byLevel := map[int]*ledger.ReferralReward{}
		for _, r := range pending {
			byLevel[r.Level] = r
		}
		require.NotNil(t, byLevel[1])
		require.NotNil(t, byLevel[2])

		assert.Equal(t, walletB, byLevel[1].ReferrerAddress)
		assert.Equal(t, ledger.StringList{rewardToken, poolToken}, byLevel[1].TokenAddresses)
		assert.Equal(t, ledger.StringList{"25", "12"}, byLevel[1].Amounts)
		assert.Equal(t, ledger.ReferralRewardStatus_Pending, byLevel[1].Status)

		assert.Equal(t, walletA, byLevel[2].ReferrerAddress)
		assert.Equal(t, ledger.StringList{"15", "7"}, byLevel[2].Amounts)
	})
	t.Run("Should ignore a redelivered harvest", func(t *testing.T) {
		f := setup(t)
		f.link(t, walletA, walletB)

		require.Nil(t, f.accountant.HandleEvent(ctx, harvestEvent(walletB, 1000, 500, "0x0h")))
		require.Nil(t, f.accountant.HandleEvent(ctx, harvestEvent(walletB, 1000, 500, "0x0h")))

		pending, err := f.ledger.SelectPendingReferralRewards(ctx)
		require.Nil(t, err)
		assert.Len(t, pending, 1)
	})
	t.Run("Should do nothing for a harvester without referrers", func(t *testing.T) {
		f := setup(t)

		require.Nil(t, f.accountant.HandleEvent(ctx, harvestEvent(walletC, 1000, 500, "0x0h")))

		pending, err := f.ledger.SelectPendingReferralRewards(ctx)
		require.Nil(t, err)
		assert.Len(t, pending, 0)
	})
	t.Run("Should only log unstake events", func(t *testing.T) {
		f := setup(t)
		f.link(t, walletA, walletB)

		require.Nil(t, f.accountant.HandleEvent(ctx, &stakingEvents.UnstakeEvent{
			EventMeta: stakingEvents.EventMeta{Pool: poolAddress, TxId: "0x0u"},
			Wallet:    walletB,
			Amount:    big.NewInt(1000),
		}))

		stakes, err := f.ledger.SelectPendingStakeRewards(ctx)
		require.Nil(t, err)
		assert.Len(t, stakes, 0)
	})
}

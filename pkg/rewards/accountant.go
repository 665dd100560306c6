package rewards

import (
	"context"
	"errors"
	"math/big"
	"strconv"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/internal/metrics"
	"github.com/lira-dao/staking-sidecar/internal/metrics/metricsTypes"
	"github.com/lira-dao/staking-sidecar/pkg/ledger"
	"github.com/lira-dao/staking-sidecar/pkg/referrals"
	"github.com/lira-dao/staking-sidecar/pkg/stakingEvents"
	pkgErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

type LineageResolver interface {
	ResolveLineage(ctx context.Context, address string) (*referrals.Lineage, error)
}

type RewardLedger interface {
	HasStakeReward(ctx context.Context, staker string) (bool, error)
	InsertStakeReward(ctx context.Context, record *ledger.StakeReward) (bool, error)
	InsertReferralReward(ctx context.Context, record *ledger.ReferralReward) (bool, error)
}

// Accountant turns staking events into ledger records.
type Accountant struct {
	resolver     LineageResolver
	ledger       RewardLedger
	globalConfig *config.Config
	metrics      *metrics.MetricsSink
	logger       *zap.Logger
}

func NewAccountant(
	resolver LineageResolver,
	rewardLedger RewardLedger,
	cfg *config.Config,
	sink *metrics.MetricsSink,
	l *zap.Logger,
) *Accountant {
	if sink == nil {
		sink = metrics.NewNoopMetricsSink()
	}
	return &Accountant{
		resolver:     resolver,
		ledger:       rewardLedger,
		globalConfig: cfg,
		metrics:      sink,
		logger:       l,
	}
}

func (a *Accountant) HandleEvent(ctx context.Context, event stakingEvents.StakingEvent) error {
	switch e := event.(type) {
	case *stakingEvents.StakeEvent:
		return a.OnStake(ctx, e)
	case *stakingEvents.HarvestEvent:
		return a.OnHarvest(ctx, e)
	case *stakingEvents.UnstakeEvent:
		a.logger.Sugar().Infow("Unstake event",
			zap.String("pool", e.Pool),
			zap.String("staker", e.Wallet),
			zap.String("amount", e.Amount.String()),
			zap.String("txId", e.TxId),
		)
		return nil
	}
	return pkgErrors.Errorf("unsupported event %T", event)
}

// OnStake grants a stake reward on a staker's first-ever stake when they have a referrer.
// HasStakeReward only saves work; the unique index on staker_address decides.
func (a *Accountant) OnStake(ctx context.Context, event *stakingEvents.StakeEvent) error {
	a.logger.Sugar().Infow("Stake event",
		zap.String("pool", event.Pool),
		zap.String("staker", event.Wallet),
		zap.String("amount", event.Amount.String()),
		zap.String("txId", event.TxId),
	)

	exists, err := a.ledger.HasStakeReward(ctx, event.Wallet)
	if err != nil {
		return err
	}
	if exists {
		a.logger.Sugar().Debugw("Staker already rewarded", zap.String("staker", event.Wallet))
		return nil
	}

	lineage, err := a.resolver.ResolveLineage(ctx, event.Wallet)
	if err != nil {
		return pkgErrors.Wrap(err, "failed to resolve referrer")
	}
	if lineage.Level1 == nil {
		a.logger.Sugar().Debugw("Staker has no referrer", zap.String("staker", event.Wallet))
		return nil
	}

	tokenAddress, ok := a.globalConfig.GetPoolTokenAddress(event.Pool)
	if !ok {
		return pkgErrors.Errorf("no token configured for pool %s", event.Pool)
	}

	reward := ComputeStakeReward(event.Amount)
	inserted, err := a.ledger.InsertStakeReward(ctx, &ledger.StakeReward{
		StakerAddress:   event.Wallet,
		ReferrerAddress: *lineage.Level1,
		TokenAddress:    tokenAddress,
		StakedAmount:    event.Amount.String(),
		RewardAmount:    reward.String(),
		StakingTxId:     event.TxId,
	})
	if err != nil {
		return err
	}
	if inserted {
		a.metrics.Incr(metricsTypes.Metric_Incr_StakeRewardCreated, nil, 1)
		a.logger.Sugar().Infow("Recorded stake reward",
			zap.String("staker", event.Wallet),
			zap.String("referrer", *lineage.Level1),
			zap.String("reward", reward.String()),
		)
	}
	return nil
}

// OnHarvest records a pending commission for every referrer in the harvester's lineage.
func (a *Accountant) OnHarvest(ctx context.Context, event *stakingEvents.HarvestEvent) error {
	a.logger.Sugar().Infow("Harvest event",
		zap.String("pool", event.Pool),
		zap.String("staker", event.Wallet),
		zap.String("amountToken1", event.AmountToken1.String()),
		zap.String("amountToken2", event.AmountToken2.String()),
		zap.String("txId", event.TxId),
	)

	lineage, err := a.resolver.ResolveLineage(ctx, event.Wallet)
	if err != nil {
		return pkgErrors.Wrap(err, "failed to resolve lineage")
	}
	if lineage.Depth() == 0 {
		return nil
	}

	poolToken, ok := a.globalConfig.GetPoolTokenAddress(event.Pool)
	if !ok {
		return pkgErrors.Errorf("no token configured for pool %s", event.Pool)
	}
	tokenAddresses := []string{a.globalConfig.StakingConfig.RewardTokenAddress, poolToken}

	computed, err := ComputeReferralRewards(lineage, tokenAddresses, []*big.Int{event.AmountToken1, event.AmountToken2})
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			a.logger.Sugar().Errorw("Skipping invalid referral reward",
				zap.String("txId", event.TxId),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	var firstErr error
	for _, c := range computed {
		amounts := make(ledger.StringList, 0, len(c.Amounts))
		for _, amount := range c.Amounts {
			amounts = append(amounts, amount.String())
		}
		inserted, err := a.ledger.InsertReferralReward(ctx, &ledger.ReferralReward{
			ReferrerAddress: c.Referrer,
			TokenAddresses:  ledger.StringList(c.TokenAddresses),
			Amounts:         amounts,
			HarvestTxId:     event.TxId,
			Level:           c.Level,
		})
		if err != nil {
			a.logger.Sugar().Errorw("Failed to record referral reward",
				zap.String("referrer", c.Referrer),
				zap.Int("level", c.Level),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if inserted {
			a.metrics.Incr(metricsTypes.Metric_Incr_ReferralRewardCreated, []metricsTypes.MetricsLabel{
				{Name: "level", Value: strconv.Itoa(c.Level)},
			}, 1)
		}
	}
	return firstErr
}

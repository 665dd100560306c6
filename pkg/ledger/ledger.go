package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/lira-dao/staking-sidecar/pkg/postgres"
	"github.com/lira-dao/staking-sidecar/pkg/postgres/helpers"
	"github.com/lira-dao/staking-sidecar/pkg/types/numbers"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger is the only writer of stake_rewards and referral_rewards.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewLedger(db *gorm.DB, l *zap.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: l,
	}
}

func (lg *Ledger) insert(ctx context.Context, record interface{}) (bool, error) {
	res := lg.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if res.Error != nil {
		if postgres.IsDuplicateKeyError(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// InsertStakeReward stores a stake reward unless one already exists for the staker or staking tx.
// A conflict reports inserted=false with a nil error.
func (lg *Ledger) InsertStakeReward(ctx context.Context, record *StakeReward) (bool, error) {
	inserted, err := lg.insert(ctx, record)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert stake reward")
	}
	if !inserted {
		lg.logger.Sugar().Infow("Stake reward already recorded",
			zap.String("staker", record.StakerAddress),
			zap.String("stakingTxId", record.StakingTxId),
		)
	}
	return inserted, nil
}

// InsertReferralReward stores a pending referral reward unless (referrer, harvest tx, level) exists.
func (lg *Ledger) InsertReferralReward(ctx context.Context, record *ReferralReward) (bool, error) {
	if len(record.TokenAddresses) != len(record.Amounts) {
		return false, errors.Errorf("token addresses and amounts differ in length (%d != %d)", len(record.TokenAddresses), len(record.Amounts))
	}
	record.Status = ReferralRewardStatus_Pending
	inserted, err := lg.insert(ctx, record)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert referral reward")
	}
	if !inserted {
		lg.logger.Sugar().Infow("Referral reward already recorded",
			zap.String("referrer", record.ReferrerAddress),
			zap.String("harvestTxId", record.HarvestTxId),
			zap.Int("level", record.Level),
		)
	}
	return inserted, nil
}

func (lg *Ledger) HasStakeReward(ctx context.Context, staker string) (bool, error) {
	var count int64
	res := lg.db.WithContext(ctx).Model(&StakeReward{}).Where("staker_address = ?", staker).Count(&count)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to look up stake reward")
	}
	return count > 0, nil
}

func (lg *Ledger) SelectPendingStakeRewards(ctx context.Context) ([]*StakeReward, error) {
	records := make([]*StakeReward, 0)
	res := lg.db.WithContext(ctx).
		Where("reward_tx_id is null").
		Order("id asc").
		Find(&records)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to select pending stake rewards")
	}
	return records, nil
}

func (lg *Ledger) SelectPendingReferralRewards(ctx context.Context) ([]*ReferralReward, error) {
	records := make([]*ReferralReward, 0)
	res := lg.db.WithContext(ctx).
		Where("status = ?", ReferralRewardStatus_Pending).
		Order("id asc").
		Find(&records)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to select pending referral rewards")
	}
	return records, nil
}

// MarkStakeRewardsSettled sets reward_tx_id on every listed record that is still pending, in one
// statement. Replaying the same close-out updates nothing.
func (lg *Ledger) MarkStakeRewardsSettled(ctx context.Context, ids []uint64, txHash string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (int64, error) {
		res := tx.Model(&StakeReward{}).
			Where("id in ? and reward_tx_id is null", ids).
			Update("reward_tx_id", txHash)
		if res.Error != nil {
			return 0, errors.Wrap(res.Error, "failed to mark stake rewards settled")
		}
		return res.RowsAffected, nil
	}, lg.db.WithContext(ctx), nil)
}

// MarkReferralRewardsDistributed flips pending referral rewards to distributed with the tx hash.
func (lg *Ledger) MarkReferralRewardsDistributed(ctx context.Context, ids []uint64, txHash string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (int64, error) {
		res := tx.Model(&ReferralReward{}).
			Where("id in ? and status = ?", ids, ReferralRewardStatus_Pending).
			Updates(map[string]interface{}{
				"status":         ReferralRewardStatus_Distributed,
				"reward_tx_id":   txHash,
				"distributed_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return 0, errors.Wrap(res.Error, "failed to mark referral rewards distributed")
		}
		return res.RowsAffected, nil
	}, lg.db.WithContext(ctx), nil)
}

// RecordSettlementRun stores a signed batch before it is broadcast.
func (lg *Ledger) RecordSettlementRun(ctx context.Context, run *SettlementRun) error {
	run.Status = SettlementRunStatus_Broadcast
	res := lg.db.WithContext(ctx).Create(run)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to record settlement run")
	}
	return nil
}

// SelectOpenSettlementRuns returns runs of kind whose broadcast outcome has not been applied yet.
func (lg *Ledger) SelectOpenSettlementRuns(ctx context.Context, kind string) ([]*SettlementRun, error) {
	runs := make([]*SettlementRun, 0)
	res := lg.db.WithContext(ctx).
		Where("kind = ? and status = ?", kind, SettlementRunStatus_Broadcast).
		Order("id asc").
		Find(&runs)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to select open settlement runs")
	}
	return runs, nil
}

// FinishSettlementRun moves an open run to status. Finishing a run twice is a no-op.
func (lg *Ledger) FinishSettlementRun(ctx context.Context, runId string, status SettlementRunStatus) error {
	res := lg.db.WithContext(ctx).Model(&SettlementRun{}).
		Where("run_id = ? and status = ?", runId, SettlementRunStatus_Broadcast).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to finish settlement run")
	}
	return nil
}

type PendingTotal struct {
	TokenAddress string
	Total        string
	Records      int
}

// PendingStakeTotals sums pending stake rewards per token. The sum is the amount owed to stakers;
// the treasury pays it twice.
func (lg *Ledger) PendingStakeTotals(ctx context.Context) ([]*PendingTotal, error) {
	records, err := lg.SelectPendingStakeRewards(ctx)
	if err != nil {
		return nil, err
	}
	totals := map[string]*PendingTotal{}
	for _, r := range records {
		if err := addToTotal(totals, r.TokenAddress, r.RewardAmount); err != nil {
			return nil, err
		}
	}
	return sortedTotals(totals), nil
}

// PendingReferralTotals sums pending referral rewards per token across all levels.
func (lg *Ledger) PendingReferralTotals(ctx context.Context) ([]*PendingTotal, error) {
	records, err := lg.SelectPendingReferralRewards(ctx)
	if err != nil {
		return nil, err
	}
	totals := map[string]*PendingTotal{}
	for _, r := range records {
		for i, token := range r.TokenAddresses {
			if i >= len(r.Amounts) {
				break
			}
			if err := addToTotal(totals, token, r.Amounts[i]); err != nil {
				return nil, err
			}
		}
	}
	return sortedTotals(totals), nil
}

func addToTotal(totals map[string]*PendingTotal, token string, amount string) error {
	t, ok := totals[token]
	if !ok {
		t = &PendingTotal{TokenAddress: token, Total: "0"}
		totals[token] = t
	}
	sum, err := numbers.NumericAdd(t.Total, amount)
	if err != nil {
		return errors.Wrapf(err, "invalid amount '%s' for token %s", amount, token)
	}
	t.Total = sum
	t.Records++
	return nil
}

func sortedTotals(totals map[string]*PendingTotal) []*PendingTotal {
	out := make([]*PendingTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TokenAddress < out[j].TokenAddress
	})
	return out
}

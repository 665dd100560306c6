package settlement

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/internal/metrics"
	"github.com/lira-dao/staking-sidecar/internal/metrics/metricsTypes"
	"github.com/lira-dao/staking-sidecar/pkg/clients/ethereum"
	"github.com/lira-dao/staking-sidecar/pkg/contractAbi"
	"github.com/lira-dao/staking-sidecar/pkg/ledger"
	"github.com/lira-dao/staking-sidecar/pkg/lock"
	pkgErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	outcome_Success   = "success"
	outcome_Empty     = "empty"
	outcome_Simulated = "simulated"
	outcome_Aborted   = "aborted"
	outcome_Skipped   = "skipped"
)

var DefaultCloseOutBackoffs = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
}

type BatcherConfig struct {
	// Network names the chain client registered in the client pool.
	Network                     string
	TreasuryAddress             string
	MulticallAddress            string
	ReferralDistributionEnabled bool
	// CloseOutBackoffs are the waits between close-out attempts after a broadcast.
	CloseOutBackoffs []time.Duration
}

func ConvertGlobalConfigToBatcherConfig(cfg *config.Config) *BatcherConfig {
	return &BatcherConfig{
		Network:                     string(cfg.Chain),
		TreasuryAddress:             cfg.TreasuryConfig.Address,
		MulticallAddress:            cfg.SettlementConfig.MulticallAddress,
		ReferralDistributionEnabled: cfg.SettlementConfig.ReferralDistributionEnabled,
		CloseOutBackoffs:            DefaultCloseOutBackoffs,
	}
}

// Batcher pays pending ledger records in one multicall transaction per run. Runs are serialized
// through locker, which every run kind shares so the treasury nonce is never used concurrently.
type Batcher struct {
	config    *BatcherConfig
	chain     ChainClient
	contracts *ethereum.ClientPool
	ledger    RewardLedger
	signer    *Signer
	locker    lock.Locker
	metrics   *metrics.MetricsSink
	logger    *zap.Logger

	multicall common.Address
	state     atomic.Value
}

func NewBatcher(
	cfg *BatcherConfig,
	chain ChainClient,
	contracts *ethereum.ClientPool,
	rewardLedger RewardLedger,
	signer *Signer,
	locker lock.Locker,
	sink *metrics.MetricsSink,
	l *zap.Logger,
) (*Batcher, error) {
	if !common.IsHexAddress(cfg.MulticallAddress) {
		return nil, pkgErrors.Errorf("invalid multicall address '%s'", cfg.MulticallAddress)
	}
	if !strings.EqualFold(signer.Address().Hex(), cfg.TreasuryAddress) {
		return nil, pkgErrors.New("signer does not control the treasury address")
	}
	if locker == nil {
		locker = lock.NewSingleFlight()
	}
	if sink == nil {
		sink = metrics.NewNoopMetricsSink()
	}
	b := &Batcher{
		config:    cfg,
		chain:     chain,
		contracts: contracts,
		ledger:    rewardLedger,
		signer:    signer,
		locker:    locker,
		metrics:   sink,
		logger:    l,
		multicall: common.HexToAddress(cfg.MulticallAddress),
	}
	b.state.Store(State_Idle)
	return b, nil
}

func (b *Batcher) State() State {
	return b.state.Load().(State)
}

func (b *Batcher) setState(runId string, s State) {
	b.state.Store(s)
	b.logger.Sugar().Debugw("Settlement state", zap.String("runId", runId), zap.String("state", string(s)))
}

func abort(state State, err error) error {
	return &SettlementAbort{State: state, Err: err}
}

// SettleStakeRewards pays every pending stake reward to both the staker and the referrer.
func (b *Batcher) SettleStakeRewards(ctx context.Context) (*RunResult, error) {
	return b.run(ctx, Kind_Stake, func(ctx context.Context, result *RunResult) (string, error) {
		records, err := b.ledger.SelectPendingStakeRewards(ctx)
		if err != nil {
			return "", abort(State_Selecting, err)
		}
		b.metrics.Gauge(metricsTypes.Metric_Gauge_PendingRecords, float64(len(records)), kindLabels(Kind_Stake))
		result.Records = len(records)
		if len(records) == 0 {
			return outcome_Empty, nil
		}
		p, err := buildStakePlan(records)
		if err != nil {
			return "", abort(State_Selecting, err)
		}
		if err := b.execute(ctx, result, p); err != nil {
			return "", err
		}
		return outcome_Success, nil
	})
}

// DistributeReferralRewards pays pending harvest commissions, one transfer per referrer and token.
// With distribution disabled the plan is only logged.
func (b *Batcher) DistributeReferralRewards(ctx context.Context) (*RunResult, error) {
	return b.run(ctx, Kind_Referral, func(ctx context.Context, result *RunResult) (string, error) {
		records, err := b.ledger.SelectPendingReferralRewards(ctx)
		if err != nil {
			return "", abort(State_Selecting, err)
		}
		b.metrics.Gauge(metricsTypes.Metric_Gauge_PendingRecords, float64(len(records)), kindLabels(Kind_Referral))
		result.Records = len(records)
		if len(records) == 0 {
			return outcome_Empty, nil
		}
		p, err := buildReferralPlan(records)
		if err != nil {
			return "", abort(State_Selecting, err)
		}
		if !b.config.ReferralDistributionEnabled {
			b.logSimulatedPlan(result.RunId, p)
			result.Transfers = len(p.Transfers)
			result.Simulated = true
			return outcome_Simulated, nil
		}
		if err := b.execute(ctx, result, p); err != nil {
			return "", err
		}
		return outcome_Success, nil
	})
}

func kindLabels(kind Kind) []metricsTypes.MetricsLabel {
	return []metricsTypes.MetricsLabel{{Name: "kind", Value: string(kind)}}
}

func (b *Batcher) run(
	ctx context.Context,
	kind Kind,
	fn func(ctx context.Context, result *RunResult) (string, error),
) (*RunResult, error) {
	release, err := b.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrRunInProgress) {
			b.logger.Sugar().Infow("Settlement run skipped, another run is in progress", zap.String("kind", string(kind)))
			b.metrics.Incr(metricsTypes.Metric_Incr_SettlementRun, []metricsTypes.MetricsLabel{
				{Name: "kind", Value: string(kind)},
				{Name: "outcome", Value: outcome_Skipped},
			}, 1)
		}
		return nil, err
	}
	defer release()

	result := &RunResult{
		RunId: uuid.New().String(),
		Kind:  kind,
	}
	start := time.Now()
	b.logger.Sugar().Infow("Starting settlement run", zap.String("runId", result.RunId), zap.String("kind", string(kind)))

	var outcome string
	b.setState(result.RunId, State_Reconciling)
	err = b.reconcile(ctx, result, kind)
	if err == nil {
		b.setState(result.RunId, State_Selecting)
		outcome, err = fn(ctx, result)
	}
	b.setState(result.RunId, State_Idle)

	if err != nil {
		outcome = outcome_Aborted
		b.logger.Sugar().Errorw("Settlement run aborted",
			zap.String("runId", result.RunId),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	} else {
		b.logger.Sugar().Infow("Finished settlement run",
			zap.String("runId", result.RunId),
			zap.String("kind", string(kind)),
			zap.String("outcome", outcome),
			zap.Int("records", result.Records),
			zap.String("txHash", result.TxHash),
		)
	}
	b.metrics.Incr(metricsTypes.Metric_Incr_SettlementRun, []metricsTypes.MetricsLabel{
		{Name: "kind", Value: string(kind)},
		{Name: "outcome", Value: outcome},
	}, 1)
	b.metrics.Timing(metricsTypes.Metric_Timing_SettlementRun, time.Since(start), kindLabels(kind))
	return result, err
}

// execute runs a plan from allowance checks to close-out. The signed batch is stored as an open
// settlement run before it is broadcast; the records themselves are only touched in Closing.
func (b *Batcher) execute(ctx context.Context, result *RunResult, p *plan) error {
	treasury := b.signer.Address()

	b.setState(result.RunId, State_EnsuringAllowances)
	approvals, err := b.ensureAllowances(ctx, result.RunId, p)
	result.Approvals = approvals
	if err != nil {
		return abort(State_EnsuringAllowances, err)
	}

	b.setState(result.RunId, State_Building)
	calls, err := p.calls(treasury)
	if err != nil {
		return abort(State_Building, err)
	}
	data, err := contractAbi.PackTryAggregate(false, calls)
	if err != nil {
		return abort(State_Building, err)
	}
	result.Transfers = len(calls)

	b.setState(result.RunId, State_Estimating)
	utx, err := b.signer.Estimate(ctx, b.chain, b.multicall, data)
	if err != nil {
		return abort(State_Estimating, err)
	}

	b.setState(result.RunId, State_Signing)
	raw, hash, err := b.signer.Sign(ctx, b.chain, utx)
	if err != nil {
		return abort(State_Signing, err)
	}
	run := &ledger.SettlementRun{
		RunId:     result.RunId,
		Kind:      string(p.Kind),
		TxHash:    hash.Hex(),
		RawTx:     hexutil.Encode(raw),
		RecordIds: ledger.IdList(p.Ids),
	}
	if err := b.ledger.RecordSettlementRun(ctx, run); err != nil {
		return abort(State_Signing, err)
	}

	b.setState(result.RunId, State_Broadcasting)
	txHash, err := b.chain.SendRawTransaction(ctx, raw)
	if err != nil {
		b.afterFailedBroadcast(ctx, run, err)
		return abort(State_Broadcasting, err)
	}
	if !strings.EqualFold(txHash, run.TxHash) {
		b.logger.Sugar().Warnw("Node returned an unexpected tx hash",
			zap.String("expected", run.TxHash),
			zap.String("actual", txHash),
		)
	}
	result.TxHash = run.TxHash

	b.setState(result.RunId, State_Closing)
	settled, err := b.closeOut(ctx, run)
	if err != nil {
		b.logger.Sugar().Errorw("Broadcast settlement was not recorded in the ledger, the next run will reconcile it",
			zap.String("runId", result.RunId),
			zap.String("txHash", run.TxHash),
			zap.Error(err),
		)
		return abort(State_Closing, err)
	}
	result.Settled = settled
	return nil
}

// afterFailedBroadcast abandons the open run when the node refused the batch outright. Any other
// failure leaves it open: the batch may have reached the mempool.
func (b *Batcher) afterFailedBroadcast(ctx context.Context, run *ledger.SettlementRun, err error) {
	if !ethereum.IsRejectedTransactionError(err) {
		b.logger.Sugar().Warnw("Broadcast outcome unknown, the next run will reconcile it",
			zap.String("runId", run.RunId),
			zap.String("txHash", run.TxHash),
			zap.Error(err),
		)
		return
	}
	if ferr := b.ledger.FinishSettlementRun(context.WithoutCancel(ctx), run.RunId, ledger.SettlementRunStatus_Abandoned); ferr != nil {
		b.logger.Sugar().Errorw("Failed to abandon rejected settlement run",
			zap.String("runId", run.RunId),
			zap.Error(ferr),
		)
	}
}

func (b *Batcher) markFunc(kind Kind) func(ctx context.Context, ids []uint64, txHash string) (int64, error) {
	if kind == Kind_Referral {
		return b.ledger.MarkReferralRewardsDistributed
	}
	return b.ledger.MarkStakeRewardsSettled
}

// closeOut marks the run's records with its tx hash and retires the run, retrying with backoff.
// It ignores cancellation: the batch is already on its way.
func (b *Batcher) closeOut(ctx context.Context, run *ledger.SettlementRun) (int64, error) {
	ctx = context.WithoutCancel(ctx)
	kind := Kind(run.Kind)
	mark := b.markFunc(kind)
	backoffs := b.config.CloseOutBackoffs

	var settled int64
	var lastErr error
	for i := 0; i <= len(backoffs); i++ {
		n, err := mark(ctx, run.RecordIds, run.TxHash)
		if err == nil {
			settled += n
			err = b.ledger.FinishSettlementRun(ctx, run.RunId, ledger.SettlementRunStatus_Recorded)
		}
		if err == nil {
			b.metrics.Incr(metricsTypes.Metric_Incr_RecordsSettled, kindLabels(kind), float64(settled))
			return settled, nil
		}
		lastErr = err
		if i == len(backoffs) {
			break
		}
		b.logger.Sugar().Warnw("Failed to close out settlement, retrying",
			zap.String("runId", run.RunId),
			zap.String("txHash", run.TxHash),
			zap.Duration("backoff", backoffs[i]),
			zap.Error(err),
		)
		time.Sleep(backoffs[i])
	}
	return settled, lastErr
}

// reconcile finishes every open run of kind left behind by an earlier run. A batch the node knows
// is closed out. An unknown batch is broadcast again from its stored bytes; a refusal abandons the
// run so its records are paid afresh. Anything else stops the run so no record is paid twice.
func (b *Batcher) reconcile(ctx context.Context, result *RunResult, kind Kind) error {
	runs, err := b.ledger.SelectOpenSettlementRuns(ctx, string(kind))
	if err != nil {
		return abort(State_Reconciling, err)
	}
	for _, run := range runs {
		if err := b.resolve(ctx, run); err != nil {
			return abort(State_Reconciling, err)
		}
		result.Reconciled++
	}
	return nil
}

func (b *Batcher) resolve(ctx context.Context, run *ledger.SettlementRun) error {
	tx, err := b.chain.GetTransactionByHash(ctx, run.TxHash)
	if err != nil {
		return pkgErrors.Wrapf(err, "failed to look up settlement %s", run.TxHash)
	}
	if tx == nil {
		raw, err := hexutil.Decode(run.RawTx)
		if err != nil {
			return pkgErrors.Wrapf(err, "invalid stored transaction for run %s", run.RunId)
		}
		_, err = b.chain.SendRawTransaction(ctx, raw)
		if err != nil {
			if !ethereum.IsRejectedTransactionError(err) {
				return pkgErrors.Wrapf(err, "settlement %s of run %s is unrecorded and could not be broadcast again", run.TxHash, run.RunId)
			}
			b.logger.Sugar().Warnw("Unrecorded settlement was refused by the node, its records stay pending",
				zap.String("runId", run.RunId),
				zap.String("txHash", run.TxHash),
				zap.Error(err),
			)
			return b.ledger.FinishSettlementRun(ctx, run.RunId, ledger.SettlementRunStatus_Abandoned)
		}
		b.logger.Sugar().Infow("Broadcast unrecorded settlement again",
			zap.String("runId", run.RunId),
			zap.String("txHash", run.TxHash),
		)
	}
	settled, err := b.closeOut(ctx, run)
	if err != nil {
		return err
	}
	b.logger.Sugar().Infow("Recorded settlement of an earlier run",
		zap.String("runId", run.RunId),
		zap.String("txHash", run.TxHash),
		zap.Int64("settled", settled),
	)
	return nil
}

// ensureAllowances approves the multicall contract for any token whose allowance is short of
// what the plan moves. Approvals are broadcast without waiting for inclusion.
func (b *Batcher) ensureAllowances(ctx context.Context, runId string, p *plan) ([]string, error) {
	treasury := b.signer.Address()
	approvals := make([]string, 0)

	for pair := p.Required.Oldest(); pair != nil; pair = pair.Next() {
		token, required := pair.Key, pair.Value

		allowance, err := b.allowance(ctx, token, treasury)
		if err != nil {
			return approvals, err
		}
		if allowance.Cmp(required) >= 0 {
			continue
		}

		b.logger.Sugar().Infow("Allowance too low, approving multicall",
			zap.String("runId", runId),
			zap.String("token", token.Hex()),
			zap.String("allowance", allowance.String()),
			zap.String("required", required.String()),
		)
		data, err := contractAbi.PackApprove(b.multicall, required)
		if err != nil {
			return approvals, err
		}
		utx, err := b.signer.Estimate(ctx, b.chain, token, data)
		if err != nil {
			return approvals, pkgErrors.Wrap(err, "failed to estimate approve")
		}
		raw, _, err := b.signer.Sign(ctx, b.chain, utx)
		if err != nil {
			return approvals, err
		}
		txHash, err := b.chain.SendRawTransaction(ctx, raw)
		if err != nil {
			return approvals, pkgErrors.Wrap(err, "failed to broadcast approve")
		}
		approvals = append(approvals, txHash)
		b.metrics.Incr(metricsTypes.Metric_Incr_ApprovalSubmitted, []metricsTypes.MetricsLabel{
			{Name: "token", Value: strings.ToLower(token.Hex())},
		}, 1)
	}
	return approvals, nil
}

func (b *Batcher) allowance(ctx context.Context, token common.Address, owner common.Address) (*big.Int, error) {
	erc20, err := b.contracts.Contract(b.config.Network, token.Hex(), contractAbi.ERC20)
	if err != nil {
		return nil, err
	}
	out, err := erc20.Call(ctx, contractAbi.Method_Allowance, owner, b.multicall)
	if err != nil {
		return nil, pkgErrors.Wrapf(err, "failed to read allowance for %s", token.Hex())
	}
	if len(out) != 1 {
		return nil, pkgErrors.Errorf("unexpected allowance output length %d", len(out))
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, pkgErrors.New("allowance output is not a uint256")
	}
	return value, nil
}

func (b *Batcher) logSimulatedPlan(runId string, p *plan) {
	for _, t := range p.Transfers {
		b.logger.Sugar().Infow("Simulated referral transfer",
			zap.String("runId", runId),
			zap.String("referrer", strings.ToLower(t.To.Hex())),
			zap.String("token", strings.ToLower(t.Token.Hex())),
			zap.String("amount", t.Amount.String()),
		)
	}
	b.logger.Sugar().Infow("Referral distribution is disabled, nothing was sent",
		zap.String("runId", runId),
		zap.Int("records", len(p.Ids)),
		zap.Int("transfers", len(p.Transfers)),
	)
}

package settlement

import (
	"context"
	"fmt"

	"github.com/lira-dao/staking-sidecar/pkg/clients/ethereum"
	"github.com/lira-dao/staking-sidecar/pkg/ledger"
)

type State string

const (
	State_Idle               State = "idle"
	State_Reconciling        State = "reconciling"
	State_Selecting          State = "selecting"
	State_EnsuringAllowances State = "ensuringAllowances"
	State_Building           State = "building"
	State_Estimating         State = "estimating"
	State_Signing            State = "signing"
	State_Broadcasting       State = "broadcasting"
	State_Closing            State = "closing"
)

type Kind string

const (
	Kind_Stake    Kind = "stake"
	Kind_Referral Kind = "referral"
)

// SettlementAbort ends a run. Before Broadcasting the ledger is untouched; from Broadcasting on the
// run stays open in settlement_runs and the next run reconciles it before selecting anything.
type SettlementAbort struct {
	State State
	Err   error
}

func (e *SettlementAbort) Error() string {
	return fmt.Sprintf("settlement aborted while %s: %v", e.State, e.Err)
}

func (e *SettlementAbort) Unwrap() error {
	return e.Err
}

// ChainClient is the node access a run needs. *ethereum.Client implements it.
type ChainClient interface {
	ethereum.ContractCaller
	EstimateGas(ctx context.Context, msg *ethereum.CallMsg) (uint64, error)
	GetLatestBlock(ctx context.Context) (*ethereum.Block, error)
	GetPendingNonce(ctx context.Context, address string) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
	GetTransactionByHash(ctx context.Context, hash string) (*ethereum.Transaction, error)
}

type RewardLedger interface {
	SelectPendingStakeRewards(ctx context.Context) ([]*ledger.StakeReward, error)
	SelectPendingReferralRewards(ctx context.Context) ([]*ledger.ReferralReward, error)
	MarkStakeRewardsSettled(ctx context.Context, ids []uint64, txHash string) (int64, error)
	MarkReferralRewardsDistributed(ctx context.Context, ids []uint64, txHash string) (int64, error)
	RecordSettlementRun(ctx context.Context, run *ledger.SettlementRun) error
	SelectOpenSettlementRuns(ctx context.Context, kind string) ([]*ledger.SettlementRun, error)
	FinishSettlementRun(ctx context.Context, runId string, status ledger.SettlementRunStatus) error
}

// RunResult describes a finished run. TxHash is empty when nothing was broadcast.
type RunResult struct {
	RunId     string
	Kind      Kind
	Records   int
	Transfers int
	Approvals []string
	TxHash    string
	Settled   int64
	Simulated bool
	// Reconciled counts earlier runs whose broadcast was closed out or abandoned by this run.
	Reconciled int
}

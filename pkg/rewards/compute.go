package rewards

import (
	"fmt"
	"math/big"

	"github.com/lira-dao/staking-sidecar/pkg/referrals"
	"github.com/lira-dao/staking-sidecar/pkg/types/numbers"
)

const (
	stakeRewardNumerator   = 10
	stakeRewardDenominator = 100

	referralRateDenominator = 1000
)

// ReferralRates are per-mille commissions on harvested amounts, indexed by level - 1.
var ReferralRates = [referrals.MaxDepth]int64{25, 15, 10}

// ValidationError means a computed reward is malformed. The record is skipped.
type ValidationError struct {
	Referrer string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reward for referrer %s: %s", e.Referrer, e.Reason)
}

// ComputeStakeReward returns floor(amount * 10 / 100).
func ComputeStakeReward(amount *big.Int) *big.Int {
	return numbers.MulDivFloor(amount, stakeRewardNumerator, stakeRewardDenominator)
}

type ReferralRewardAmount struct {
	Level          int
	Referrer       string
	TokenAddresses []string
	Amounts        []*big.Int
}

// ComputeReferralRewards returns one commission per referrer present in lineage. Harvested amounts
// are paired positionally with tokenAddresses.
func ComputeReferralRewards(lineage *referrals.Lineage, tokenAddresses []string, harvested []*big.Int) ([]*ReferralRewardAmount, error) {
	out := make([]*ReferralRewardAmount, 0, referrals.MaxDepth)
	for level := 1; level <= referrals.MaxDepth; level++ {
		referrer := lineage.At(level)
		if referrer == nil {
			break
		}
		if len(tokenAddresses) != len(harvested) {
			return nil, &ValidationError{
				Referrer: *referrer,
				Reason:   fmt.Sprintf("%d token addresses for %d amounts", len(tokenAddresses), len(harvested)),
			}
		}
		amounts := make([]*big.Int, 0, len(harvested))
		for _, h := range harvested {
			if h == nil || h.Sign() < 0 {
				return nil, &ValidationError{Referrer: *referrer, Reason: "harvested amount must be non-negative"}
			}
			amounts = append(amounts, numbers.MulDivFloor(h, ReferralRates[level-1], referralRateDenominator))
		}
		out = append(out, &ReferralRewardAmount{
			Level:          level,
			Referrer:       *referrer,
			TokenAddresses: tokenAddresses,
			Amounts:        amounts,
		})
	}
	return out, nil
}

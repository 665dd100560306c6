package settlement

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lira-dao/staking-sidecar/pkg/contractAbi"
	"github.com/lira-dao/staking-sidecar/pkg/ledger"
	"github.com/lira-dao/staking-sidecar/pkg/types/numbers"
	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type transfer struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

// plan is everything a run pays out. Required is the allowance needed per token, in first-seen order.
type plan struct {
	Kind      Kind
	Ids       []uint64
	Transfers []transfer
	Required  *orderedmap.OrderedMap[common.Address, *big.Int]
}

func newPlan(kind Kind) *plan {
	return &plan{
		Kind:     kind,
		Required: orderedmap.New[common.Address, *big.Int](),
	}
}

func (p *plan) addRequired(token common.Address, amount *big.Int) {
	total, ok := p.Required.Get(token)
	if !ok {
		total = new(big.Int)
		p.Required.Set(token, total)
	}
	total.Add(total, amount)
}

func parseAddress(field string, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.Errorf("invalid %s address '%s'", field, value)
	}
	return common.HexToAddress(value), nil
}

// buildStakePlan pays every record's reward twice: once to the staker and once to the referrer.
func buildStakePlan(records []*ledger.StakeReward) (*plan, error) {
	p := newPlan(Kind_Stake)
	for _, r := range records {
		token, err := parseAddress("token", r.TokenAddress)
		if err != nil {
			return nil, err
		}
		staker, err := parseAddress("staker", r.StakerAddress)
		if err != nil {
			return nil, err
		}
		referrer, err := parseAddress("referrer", r.ReferrerAddress)
		if err != nil {
			return nil, err
		}
		amount, err := numbers.ParseAmount(r.RewardAmount)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid reward amount on stake reward %d", r.Id)
		}

		p.Ids = append(p.Ids, r.Id)
		p.Transfers = append(p.Transfers,
			transfer{Token: token, To: staker, Amount: amount},
			transfer{Token: token, To: referrer, Amount: amount},
		)
		p.addRequired(token, new(big.Int).Mul(amount, big.NewInt(2)))
	}
	return p, nil
}

type referralKey struct {
	Referrer string
	Token    string
}

// buildReferralPlan merges all pending commissions into one transfer per (referrer, token).
func buildReferralPlan(records []*ledger.ReferralReward) (*plan, error) {
	p := newPlan(Kind_Referral)
	aggregated := orderedmap.New[referralKey, *big.Int]()

	for _, r := range records {
		if len(r.TokenAddresses) != len(r.Amounts) {
			return nil, errors.Errorf("referral reward %d has %d tokens for %d amounts", r.Id, len(r.TokenAddresses), len(r.Amounts))
		}
		for i, token := range r.TokenAddresses {
			amount, err := numbers.ParseAmount(r.Amounts[i])
			if err != nil {
				return nil, errors.Wrapf(err, "invalid amount on referral reward %d", r.Id)
			}
			key := referralKey{Referrer: strings.ToLower(r.ReferrerAddress), Token: strings.ToLower(token)}
			total, ok := aggregated.Get(key)
			if !ok {
				total = new(big.Int)
				aggregated.Set(key, total)
			}
			total.Add(total, amount)
		}
		p.Ids = append(p.Ids, r.Id)
	}

	for pair := aggregated.Oldest(); pair != nil; pair = pair.Next() {
		token, err := parseAddress("token", pair.Key.Token)
		if err != nil {
			return nil, err
		}
		referrer, err := parseAddress("referrer", pair.Key.Referrer)
		if err != nil {
			return nil, err
		}
		p.Transfers = append(p.Transfers, transfer{Token: token, To: referrer, Amount: pair.Value})
		p.addRequired(token, pair.Value)
	}
	return p, nil
}

// calls encodes each transfer as transferFrom(treasury, to, amount) on the token contract.
func (p *plan) calls(treasury common.Address) ([]contractAbi.MulticallCall, error) {
	calls := make([]contractAbi.MulticallCall, 0, len(p.Transfers))
	for _, t := range p.Transfers {
		data, err := contractAbi.PackTransferFrom(treasury, t.To, t.Amount)
		if err != nil {
			return nil, err
		}
		calls = append(calls, contractAbi.MulticallCall{Target: t.Token, CallData: data})
	}
	return calls, nil
}

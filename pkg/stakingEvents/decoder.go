package stakingEvents

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lira-dao/staking-sidecar/pkg/contractAbi"
	"github.com/pkg/errors"
)

// DecodeError is a log that could not be turned into a StakingEvent. It is reported and dropped.
type DecodeError struct {
	Pool     string
	TxHash   string
	LogIndex uint
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode log %s:%d from pool %s: %v", e.TxHash, e.LogIndex, e.Pool, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Decoder struct {
	contractAbi abi.ABI
	kinds       map[common.Hash]EventKind
}

func NewDecoder() *Decoder {
	d := &Decoder{
		contractAbi: contractAbi.TokenStaker,
		kinds:       make(map[common.Hash]EventKind),
	}
	for _, kind := range AllEventKinds {
		d.kinds[contractAbi.TokenStaker.Events[string(kind)].ID] = kind
	}
	return d
}

// Topics builds the topic filter matching any of kinds.
func (d *Decoder) Topics(kinds []EventKind) ([][]common.Hash, error) {
	topic0 := make([]common.Hash, 0, len(kinds))
	for _, kind := range kinds {
		topic, err := contractAbi.EventTopic(string(kind))
		if err != nil {
			return nil, err
		}
		topic0 = append(topic0, topic)
	}
	return [][]common.Hash{topic0}, nil
}

func (d *Decoder) Decode(log types.Log) (StakingEvent, error) {
	meta := EventMeta{
		Pool:        strings.ToLower(log.Address.Hex()),
		TxId:        strings.ToLower(log.TxHash.Hex()),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}
	fail := func(err error) (StakingEvent, error) {
		return nil, &DecodeError{Pool: meta.Pool, TxHash: meta.TxId, LogIndex: meta.LogIndex, Err: err}
	}

	if len(log.Topics) == 0 {
		return fail(errors.New("log has no topics"))
	}
	kind, ok := d.kinds[log.Topics[0]]
	if !ok {
		return fail(errors.Errorf("unknown event topic %s", log.Topics[0].Hex()))
	}
	if len(log.Topics) != 2 {
		return fail(errors.Errorf("%s expects 2 topics, got %d", kind, len(log.Topics)))
	}
	wallet := strings.ToLower(common.BytesToAddress(log.Topics[1].Bytes()).Hex())

	values, err := d.contractAbi.Events[string(kind)].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return fail(errors.Wrapf(err, "failed to unpack %s data", kind))
	}
	amounts, err := toBigInts(values)
	if err != nil {
		return fail(err)
	}

	switch kind {
	case EventKind_Stake:
		return &StakeEvent{EventMeta: meta, Wallet: wallet, Amount: amounts[0]}, nil
	case EventKind_Unstake:
		return &UnstakeEvent{EventMeta: meta, Wallet: wallet, Amount: amounts[0]}, nil
	case EventKind_Harvest:
		if len(amounts) != 2 {
			return fail(errors.Errorf("harvest expects 2 amounts, got %d", len(amounts)))
		}
		return &HarvestEvent{EventMeta: meta, Wallet: wallet, AmountToken1: amounts[0], AmountToken2: amounts[1]}, nil
	}
	return fail(errors.Errorf("unhandled event kind %s", kind))
}

func toBigInts(values []interface{}) ([]*big.Int, error) {
	if len(values) == 0 {
		return nil, errors.New("log has no data values")
	}
	out := make([]*big.Int, 0, len(values))
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, errors.Errorf("value %d is %T, expected uint256", i, v)
		}
		out = append(out, n)
	}
	return out, nil
}

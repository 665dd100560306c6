package contractAbi

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const TokenStakerAbi = `[
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"wallet","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Stake","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"wallet","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Unstake","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"wallet","type":"address"},{"indexed":false,"internalType":"uint256","name":"amountToken1","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"amountToken2","type":"uint256"}],"name":"Harvest","type":"event"}
]`

const ERC20Abi = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const MulticallAbi = `[
	{"inputs":[{"internalType":"bool","name":"requireSuccess","type":"bool"},{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall2.Call[]","name":"calls","type":"tuple[]"}],"name":"tryAggregate","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall2.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"nonpayable","type":"function"}
]`

const (
	Event_Stake   = "Stake"
	Event_Unstake = "Unstake"
	Event_Harvest = "Harvest"

	Method_Allowance    = "allowance"
	Method_Approve      = "approve"
	Method_TransferFrom = "transferFrom"
	Method_TryAggregate = "tryAggregate"
)

var (
	TokenStaker = mustParse(TokenStakerAbi)
	ERC20       = mustParse(ERC20Abi)
	Multicall   = mustParse(MulticallAbi)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// MulticallCall mirrors the Multicall2.Call tuple.
type MulticallCall struct {
	Target   common.Address
	CallData []byte
}

// EventTopic returns the topic0 hash of a TokenStaker event.
func EventTopic(name string) (common.Hash, error) {
	event, ok := TokenStaker.Events[name]
	if !ok {
		return common.Hash{}, errors.Errorf("unknown event '%s'", name)
	}
	return event.ID, nil
}

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20.Pack(Method_Approve, spender, amount)
}

func PackTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20.Pack(Method_TransferFrom, from, to, amount)
}

func PackTryAggregate(requireSuccess bool, calls []MulticallCall) ([]byte, error) {
	return Multicall.Pack(Method_TryAggregate, requireSuccess, calls)
}

// UnpackTryAggregateInput decodes calldata produced by PackTryAggregate, selector included.
func UnpackTryAggregateInput(data []byte) (bool, []MulticallCall, error) {
	if len(data) < 4 {
		return false, nil, errors.New("calldata too short")
	}
	method, err := Multicall.MethodById(data[:4])
	if err != nil {
		return false, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return false, nil, errors.Wrap(err, "failed to unpack tryAggregate input")
	}
	var decoded struct {
		RequireSuccess bool
		Calls          []MulticallCall
	}
	if err := method.Inputs.Copy(&decoded, args); err != nil {
		return false, nil, errors.Wrap(err, "failed to copy tryAggregate input")
	}
	return decoded.RequireSuccess, decoded.Calls, nil
}

// UnpackTransferFromInput decodes transferFrom calldata, selector included.
func UnpackTransferFromInput(data []byte) (common.Address, common.Address, *big.Int, error) {
	if len(data) < 4 {
		return common.Address{}, common.Address{}, nil, errors.New("calldata too short")
	}
	method, err := ERC20.MethodById(data[:4])
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	if method.Name != Method_TransferFrom {
		return common.Address{}, common.Address{}, nil, errors.Errorf("unexpected method '%s'", method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, common.Address{}, nil, errors.Wrap(err, "failed to unpack transferFrom input")
	}
	return args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int), nil
}

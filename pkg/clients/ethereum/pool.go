package ethereum

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type ContractCaller interface {
	CallContract(ctx context.Context, to string, data []byte) ([]byte, error)
}

type ContractKey struct {
	Network string
	Address string
}

// ContractHandle is an immutable binding of an ABI to a deployed contract on one network.
type ContractHandle struct {
	Network string
	Address common.Address
	Abi     abi.ABI

	caller ContractCaller
}

func (h *ContractHandle) Pack(method string, args ...interface{}) ([]byte, error) {
	return h.Abi.Pack(method, args...)
}

// Call packs method, runs it through eth_call and unpacks the outputs.
func (h *ContractHandle) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := h.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s", method)
	}
	res, err := h.caller.CallContract(ctx, h.Address.Hex(), data)
	if err != nil {
		return nil, err
	}
	out, err := h.Abi.Unpack(method, res)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s", method)
	}
	return out, nil
}

// ClientPool hands out one shared handle per (network, contract) for the life of the process.
type ClientPool struct {
	logger *zap.Logger

	mu        sync.RWMutex
	callers   map[string]ContractCaller
	contracts map[ContractKey]*ContractHandle
}

func NewClientPool(l *zap.Logger) *ClientPool {
	return &ClientPool{
		logger:    l,
		callers:   make(map[string]ContractCaller),
		contracts: make(map[ContractKey]*ContractHandle),
	}
}

func (p *ClientPool) AddNetwork(network string, caller ContractCaller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callers[network] = caller
}

// Contract returns the handle for address on network, creating it on first use.
func (p *ClientPool) Contract(network string, address string, contractAbi abi.ABI) (*ContractHandle, error) {
	key := ContractKey{Network: network, Address: strings.ToLower(address)}

	p.mu.RLock()
	handle, ok := p.contracts[key]
	p.mu.RUnlock()
	if ok {
		return handle, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if handle, ok := p.contracts[key]; ok {
		return handle, nil
	}
	caller, ok := p.callers[network]
	if !ok {
		return nil, errors.Errorf("no client registered for network '%s'", network)
	}
	if !common.IsHexAddress(address) {
		return nil, errors.Errorf("invalid contract address '%s'", address)
	}
	handle = &ContractHandle{
		Network: network,
		Address: common.HexToAddress(address),
		Abi:     contractAbi,
		caller:  caller,
	}
	p.contracts[key] = handle
	p.logger.Sugar().Debugw("Created contract handle",
		zap.String("network", network),
		zap.String("address", key.Address),
	)
	return handle, nil
}

func (p *ClientPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.contracts)
}

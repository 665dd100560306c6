package ethereum

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Block struct {
	Hash   string         `json:"hash"`
	Number hexutil.Uint64 `json:"number"`
	// BaseFeePerGas is nil on chains without EIP-1559.
	BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
}

func (b *Block) BaseFee() (*big.Int, error) {
	if b.BaseFeePerGas == nil {
		return nil, fmt.Errorf("block %d has no base fee", uint64(b.Number))
	}
	return new(big.Int).Set(b.BaseFeePerGas.ToInt()), nil
}

// Transaction is the part of eth_getTransactionByHash the sidecar reads. BlockNumber is nil while
// the transaction is still in the mempool.
type Transaction struct {
	Hash        string          `json:"hash"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
}

// TransientChainError is a transport level failure talking to the node: timeouts, dropped
// connections, non-200 responses. It is safe to retry the operation later.
type TransientChainError struct {
	Method string
	Err    error
}

func (e *TransientChainError) Error() string {
	return fmt.Sprintf("transient chain error calling %s: %v", e.Method, e.Err)
}

func (e *TransientChainError) Unwrap() error {
	return e.Err
}

func IsTransientChainError(err error) bool {
	var target *TransientChainError
	return errors.As(err, &target)
}

var (
	alreadyKnownRegex = regexp.MustCompile(`(?i)already known|known transaction|already imported|already exists`)
	nonceTooLowRegex  = regexp.MustCompile(`(?i)nonce too low`)
)

func asRPCError(err error) (*RPCError, bool) {
	var target *RPCError
	if !errors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// IsAlreadyKnownError reports a node refusing a transaction it already holds.
func IsAlreadyKnownError(err error) bool {
	rpcErr, ok := asRPCError(err)
	return ok && alreadyKnownRegex.MatchString(rpcErr.Message)
}

func IsNonceTooLowError(err error) bool {
	rpcErr, ok := asRPCError(err)
	return ok && nonceTooLowRegex.MatchString(rpcErr.Message)
}

// IsRejectedTransactionError reports a node refusing a transaction outright, so the transaction is
// not pending anywhere. A nonce that is too low is excluded: the nonce may have been taken by this
// very transaction.
func IsRejectedTransactionError(err error) bool {
	if _, ok := asRPCError(err); !ok {
		return false
	}
	return !IsAlreadyKnownError(err) && !IsNonceTooLowError(err)
}

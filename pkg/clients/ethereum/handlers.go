package ethereum

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

type ResponseParserFunc[T any] func(res json.RawMessage) (T, error)

type RequestResponseHandler[T any] struct {
	RequestMethod  *RequestMethod
	ResponseParser ResponseParserFunc[T]
}

var (
	RPCMethod_ethCall = &RequestResponseHandler[[]byte]{
		RequestMethod: &RequestMethod{
			Name:    "eth_call",
			Timeout: time.Second * 10,
		},
		ResponseParser: func(res json.RawMessage) ([]byte, error) {
			var out hexutil.Bytes
			if err := json.Unmarshal(res, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
	RPCMethod_estimateGas = &RequestResponseHandler[uint64]{
		RequestMethod: &RequestMethod{
			Name:    "eth_estimateGas",
			Timeout: time.Second * 10,
		},
		ResponseParser: parseQuantity,
	}
	RPCMethod_getBlockByNumber = &RequestResponseHandler[*Block]{
		RequestMethod: &RequestMethod{
			Name:    "eth_getBlockByNumber",
			Timeout: time.Second * 5,
		},
		ResponseParser: func(res json.RawMessage) (*Block, error) {
			if string(res) == "null" || len(res) == 0 {
				return nil, errors.New("block not found")
			}
			block := &Block{}
			if err := json.Unmarshal(res, block); err != nil {
				return nil, err
			}
			return block, nil
		},
	}
	RPCMethod_getTransactionCount = &RequestResponseHandler[uint64]{
		RequestMethod: &RequestMethod{
			Name:    "eth_getTransactionCount",
			Timeout: time.Second * 5,
		},
		ResponseParser: parseQuantity,
	}
	RPCMethod_sendRawTransaction = &RequestResponseHandler[string]{
		RequestMethod: &RequestMethod{
			Name:    "eth_sendRawTransaction",
			Timeout: time.Second * 15,
		},
		ResponseParser: func(res json.RawMessage) (string, error) {
			var hash string
			if err := json.Unmarshal(res, &hash); err != nil {
				return "", err
			}
			if _, err := hexutil.Decode(hash); err != nil {
				return "", errors.Wrap(err, "invalid transaction hash")
			}
			return hash, nil
		},
	}
	RPCMethod_getTransactionByHash = &RequestResponseHandler[*Transaction]{
		RequestMethod: &RequestMethod{
			Name:    "eth_getTransactionByHash",
			Timeout: time.Second * 5,
		},
		ResponseParser: func(res json.RawMessage) (*Transaction, error) {
			if string(res) == "null" || len(res) == 0 {
				return nil, nil
			}
			tx := &Transaction{}
			if err := json.Unmarshal(res, tx); err != nil {
				return nil, err
			}
			return tx, nil
		},
	}
)

func parseQuantity(res json.RawMessage) (uint64, error) {
	var out hexutil.Uint64
	if err := json.Unmarshal(res, &out); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

func EthCallRequest(msg *CallMsg, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_ethCall.RequestMethod.Name,
		Params:  []interface{}{msg.toArg(), "latest"},
		ID:      id,
	}
}

func EstimateGasRequest(msg *CallMsg, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_estimateGas.RequestMethod.Name,
		Params:  []interface{}{msg.toArg()},
		ID:      id,
	}
}

func GetLatestBlockRequest(id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getBlockByNumber.RequestMethod.Name,
		Params:  []interface{}{"latest", false},
		ID:      id,
	}
}

// Block can be a hex block number, "latest", "safe", "finalized" or "pending".
func GetTransactionCountRequest(address string, block string, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getTransactionCount.RequestMethod.Name,
		Params:  []interface{}{address, block},
		ID:      id,
	}
}

func SendRawTransactionRequest(raw []byte, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_sendRawTransaction.RequestMethod.Name,
		Params:  []interface{}{hexutil.Encode(raw)},
		ID:      id,
	}
}

func GetTransactionByHashRequest(hash string, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getTransactionByHash.RequestMethod.Name,
		Params:  []interface{}{hash},
		ID:      id,
	}
}

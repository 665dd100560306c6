package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type RequestMethod struct {
	Name    string
	Timeout time.Duration
}

type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint   `json:"id"`
}

type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

var jsonRPCVersion = "2.0"

var DefaultRetryBackoffs = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

type EthereumClientConfig struct {
	BaseUrl string
	// RetryBackoffs are the waits between attempts of a transport-failed request.
	RetryBackoffs []time.Duration
}

func ConvertGlobalConfigToEthereumConfig(cfg *config.EthereumRpcConfig) *EthereumClientConfig {
	return &EthereumClientConfig{
		BaseUrl:       cfg.BaseUrl,
		RetryBackoffs: DefaultRetryBackoffs,
	}
}

// CallMsg is the subset of an eth_call/eth_estimateGas transaction object the sidecar needs.
type CallMsg struct {
	From  string
	To    string
	Data  []byte
	Value *big.Int
}

func (m *CallMsg) toArg() map[string]any {
	arg := map[string]any{
		"to":   m.To,
		"data": hexutil.Encode(m.Data),
	}
	if m.From != "" {
		arg["from"] = m.From
	}
	if m.Value != nil {
		arg["value"] = (*hexutil.Big)(m.Value)
	}
	return arg
}

type Client struct {
	Logger       *zap.Logger
	httpClient   *http.Client
	clientConfig *EthereumClientConfig
}

func NewClient(cfg *EthereumClientConfig, l *zap.Logger) *Client {
	client := &http.Client{
		Timeout: time.Second * 10,
	}

	l.Sugar().Infow("Creating new Ethereum client", zap.String("baseUrl", cfg.BaseUrl))

	return &Client{
		httpClient:   client,
		Logger:       l,
		clientConfig: cfg,
	}
}

func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

// CallContract runs eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to string, data []byte) ([]byte, error) {
	msg := &CallMsg{To: to, Data: data}
	res, err := c.Call(ctx, EthCallRequest(msg, 1), RPCMethod_ethCall.RequestMethod)
	if err != nil {
		return nil, err
	}
	return parseResult(c, RPCMethod_ethCall, res)
}

func (c *Client) EstimateGas(ctx context.Context, msg *CallMsg) (uint64, error) {
	res, err := c.Call(ctx, EstimateGasRequest(msg, 1), RPCMethod_estimateGas.RequestMethod)
	if err != nil {
		return 0, err
	}
	return parseResult(c, RPCMethod_estimateGas, res)
}

func (c *Client) GetLatestBlock(ctx context.Context) (*Block, error) {
	res, err := c.Call(ctx, GetLatestBlockRequest(1), RPCMethod_getBlockByNumber.RequestMethod)
	if err != nil {
		return nil, err
	}
	return parseResult(c, RPCMethod_getBlockByNumber, res)
}

// GetPendingNonce returns the next nonce for address including transactions still in the mempool.
func (c *Client) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	res, err := c.Call(ctx, GetTransactionCountRequest(address, "pending", 1), RPCMethod_getTransactionCount.RequestMethod)
	if err != nil {
		return 0, err
	}
	return parseResult(c, RPCMethod_getTransactionCount, res)
}

// SendRawTransaction broadcasts a signed transaction and returns its hash. A node that already holds
// the transaction, typically because the response to an earlier attempt was lost, counts as a
// successful broadcast and the hash is computed locally.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	res, err := c.Call(ctx, SendRawTransactionRequest(raw, 1), RPCMethod_sendRawTransaction.RequestMethod)
	if err != nil {
		if !IsAlreadyKnownError(err) {
			return "", err
		}
		tx := new(types.Transaction)
		if decodeErr := tx.UnmarshalBinary(raw); decodeErr != nil {
			return "", errors.Wrap(decodeErr, "node already knows a transaction that cannot be decoded")
		}
		c.Logger.Sugar().Infow("Node already has the transaction", zap.String("txHash", tx.Hash().Hex()))
		return tx.Hash().Hex(), nil
	}
	return parseResult(c, RPCMethod_sendRawTransaction, res)
}

// GetTransactionByHash returns nil without an error when the node does not know the transaction.
func (c *Client) GetTransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	res, err := c.Call(ctx, GetTransactionByHashRequest(hash, 1), RPCMethod_getTransactionByHash.RequestMethod)
	if err != nil {
		return nil, err
	}
	return parseResult(c, RPCMethod_getTransactionByHash, res)
}

func parseResult[T any](c *Client, handler *RequestResponseHandler[T], res *RPCResponse) (T, error) {
	value, err := handler.ResponseParser(res.Result)
	if err != nil {
		c.Logger.Sugar().Errorw("failed to parse response",
			zap.String("method", handler.RequestMethod.Name),
			zap.Error(err),
			zap.String("raw response", string(res.Result)),
		)
		var zero T
		return zero, errors.Wrapf(err, "failed to parse %s response", handler.RequestMethod.Name)
	}
	return value, nil
}

func (c *Client) call(ctx context.Context, rpcRequest *RPCRequest, method *RequestMethod) (*RPCResponse, error) {
	requestBody, err := json.Marshal(rpcRequest)
	if err != nil {
		return nil, err
	}
	c.Logger.Sugar().Debugw("Request body", zap.String("requestBody", string(requestBody)))

	ctx, cancel := context.WithTimeout(ctx, method.Timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clientConfig.BaseUrl, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("Failed to make request %s", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &TransientChainError{Method: rpcRequest.Method, Err: err}
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &TransientChainError{Method: rpcRequest.Method, Err: err}
	}
	if response.StatusCode != http.StatusOK {
		return nil, &TransientChainError{
			Method: rpcRequest.Method,
			Err:    fmt.Errorf("received http error code %+v", response.StatusCode),
		}
	}

	destination := &RPCResponse{}
	if err := json.Unmarshal(responseBody, destination); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %s", err)
	}

	if destination.Error != nil {
		return nil, destination.Error
	}

	return destination, nil
}

// Call sends a request, retrying transport failures with the configured backoffs.
// Errors returned by the node itself are not retried.
func (c *Client) Call(ctx context.Context, rpcRequest *RPCRequest, method *RequestMethod) (*RPCResponse, error) {
	backoffs := c.clientConfig.RetryBackoffs

	var lastErr error
	for i := 0; i <= len(backoffs); i++ {
		res, err := c.call(ctx, rpcRequest, method)
		if err == nil {
			if i > 0 {
				c.Logger.Sugar().Infow("Successfully called after backoff",
					zap.Int("attempt", i+1),
					zap.String("method", rpcRequest.Method),
				)
			}
			return res, nil
		}
		if !IsTransientChainError(err) {
			return nil, err
		}
		lastErr = err
		if i == len(backoffs) {
			break
		}
		c.Logger.Sugar().Errorw("Failed to call",
			zap.Error(err),
			zap.Duration("backoff", backoffs[i]),
			zap.String("method", rpcRequest.Method),
		)
		select {
		case <-ctx.Done():
			return nil, &TransientChainError{Method: rpcRequest.Method, Err: ctx.Err()}
		case <-time.After(backoffs[i]):
		}
	}
	c.Logger.Sugar().Errorw("Exceeded retries for Call", zap.String("method", rpcRequest.Method))
	return nil, lastErr
}

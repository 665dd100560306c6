package ethereum

import (
	"context"
	"sync"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const subscriptionBufferSize = 128

// LogSubscriber opens log subscriptions over one shared websocket connection. A failed subscribe
// discards the connection so the next attempt redials.
type LogSubscriber struct {
	wsUrl  string
	logger *zap.Logger

	mu     sync.Mutex
	client *ethclient.Client
}

func NewLogSubscriber(wsUrl string, l *zap.Logger) *LogSubscriber {
	return &LogSubscriber{
		wsUrl:  wsUrl,
		logger: l,
	}
}

func (s *LogSubscriber) getClient(ctx context.Context) (*ethclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	s.logger.Sugar().Infow("Dialing websocket endpoint")
	client, err := ethclient.DialContext(ctx, s.wsUrl)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

func (s *LogSubscriber) discard(client *ethclient.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == client && s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

// SubscribeLogs streams logs emitted by address matching topics.
func (s *LogSubscriber) SubscribeLogs(ctx context.Context, address string, topics [][]common.Hash) (<-chan types.Log, geth.Subscription, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, nil, &TransientChainError{Method: "eth_subscribe", Err: err}
	}

	logs := make(chan types.Log, subscriptionBufferSize)
	sub, err := client.SubscribeFilterLogs(ctx, geth.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(address)},
		Topics:    topics,
	}, logs)
	if err != nil {
		s.discard(client)
		return nil, nil, &TransientChainError{Method: "eth_subscribe", Err: err}
	}
	return logs, sub, nil
}

func (s *LogSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

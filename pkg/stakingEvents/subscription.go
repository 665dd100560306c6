package stakingEvents

import (
	"context"
	"errors"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lira-dao/staking-sidecar/internal/metrics"
	"github.com/lira-dao/staking-sidecar/internal/metrics/metricsTypes"
	"github.com/lira-dao/staking-sidecar/pkg/clients/ethereum"
	"go.uber.org/zap"
)

var DefaultResubscribeBackoffs = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

const errorBufferSize = 64

// LogSource opens raw log streams for a contract.
type LogSource interface {
	SubscribeLogs(ctx context.Context, address string, topics [][]common.Hash) (<-chan types.Log, geth.Subscription, error)
}

// Subscription is a cancellable stream of decoded events for one pool. It reconnects on its own
// after transport failures. Once closed it cannot be restarted.
type Subscription struct {
	pool     string
	topics   [][]common.Hash
	source   LogSource
	decoder  *Decoder
	backoffs []time.Duration
	metrics  *metrics.MetricsSink
	logger   *zap.Logger

	events chan StakingEvent
	errs   chan error

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

type SubscriptionOptions struct {
	Backoffs []time.Duration
	Metrics  *metrics.MetricsSink
}

// Subscribe starts streaming kinds emitted by pool.
func Subscribe(
	ctx context.Context,
	source LogSource,
	decoder *Decoder,
	pool string,
	kinds []EventKind,
	opts *SubscriptionOptions,
	l *zap.Logger,
) (*Subscription, error) {
	topics, err := decoder.Topics(kinds)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SubscriptionOptions{}
	}
	backoffs := opts.Backoffs
	if len(backoffs) == 0 {
		backoffs = DefaultResubscribeBackoffs
	}
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.NewNoopMetricsSink()
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		pool:     pool,
		topics:   topics,
		source:   source,
		decoder:  decoder,
		backoffs: backoffs,
		metrics:  sink,
		logger:   l.With(zap.String("pool", pool)),
		events:   make(chan StakingEvent),
		errs:     make(chan error, errorBufferSize),
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *Subscription) Pool() string {
	return s.pool
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan StakingEvent {
	return s.events
}

// Err carries DecodeErrors and transport errors. Errors are dropped when nobody reads them.
func (s *Subscription) Err() <-chan error {
	return s.errs
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the stream and waits for it to wind down. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
}

func (s *Subscription) backoff(attempt int) time.Duration {
	if attempt >= len(s.backoffs) {
		return s.backoffs[len(s.backoffs)-1]
	}
	return s.backoffs[attempt]
}

func (s *Subscription) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Subscription) wait(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	defer close(s.events)

	attempt := 0
	for {
		if s.ctx.Err() != nil {
			return
		}
		logs, sub, err := s.source.SubscribeLogs(s.ctx, s.pool, s.topics)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			backoff := s.backoff(attempt)
			s.logger.Sugar().Errorw("Failed to subscribe to pool logs",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			s.report(err)
			if !s.wait(backoff) {
				return
			}
			attempt++
			continue
		}
		s.logger.Sugar().Infow("Subscribed to pool logs")

		delivered, err := s.consume(logs, sub)
		sub.Unsubscribe()
		if s.ctx.Err() != nil {
			return
		}
		if delivered {
			attempt = 0
		}
		backoff := s.backoff(attempt)
		s.logger.Sugar().Errorw("Pool subscription dropped, resubscribing",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)
		s.metrics.Incr(metricsTypes.Metric_Incr_ListenerResubscribe, []metricsTypes.MetricsLabel{
			{Name: "pool", Value: s.pool},
		}, 1)
		s.report(err)
		if !s.wait(backoff) {
			return
		}
		attempt++
	}
}

// consume forwards decoded logs until the transport fails or the subscription is closed.
func (s *Subscription) consume(logs <-chan types.Log, sub geth.Subscription) (bool, error) {
	delivered := false
	for {
		select {
		case <-s.ctx.Done():
			return delivered, nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed by remote")
			}
			return delivered, &ethereum.TransientChainError{Method: "eth_subscribe", Err: err}
		case raw, ok := <-logs:
			if !ok {
				return delivered, &ethereum.TransientChainError{Method: "eth_subscribe", Err: errors.New("log stream closed")}
			}
			delivered = true
			if raw.Removed {
				s.logger.Sugar().Warnw("Ignoring log removed by reorg",
					zap.String("txHash", raw.TxHash.Hex()),
					zap.Uint("logIndex", raw.Index),
				)
				continue
			}
			event, err := s.decoder.Decode(raw)
			if err != nil {
				s.logger.Sugar().Errorw("Failed to decode pool log", zap.Error(err))
				s.metrics.Incr(metricsTypes.Metric_Incr_ListenerDecodeError, []metricsTypes.MetricsLabel{
					{Name: "pool", Value: s.pool},
				}, 1)
				s.report(err)
				continue
			}
			select {
			case s.events <- event:
			case <-s.ctx.Done():
				return delivered, nil
			}
		}
	}
}

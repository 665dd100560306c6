package stakingEvents

import (
	"context"
	"sync"
	"time"

	"github.com/lira-dao/staking-sidecar/internal/metrics"
	"github.com/lira-dao/staking-sidecar/internal/metrics/metricsTypes"
	"go.uber.org/zap"
)

const DefaultQueueSize = 1000

// EventHandler processes one decoded event. Errors are logged by the listener and never stop it.
type EventHandler interface {
	HandleEvent(ctx context.Context, event StakingEvent) error
}

type ListenerConfig struct {
	Pools     []string
	Kinds     []EventKind
	QueueSize int
	Backoffs  []time.Duration
}

// Listener runs one subscription and one processing worker per pool. Each pool's subscription feeds
// its worker through a bounded queue; an event arriving at a full queue is dropped and counted.
type Listener struct {
	source  LogSource
	decoder *Decoder
	handler EventHandler
	config  *ListenerConfig
	metrics *metrics.MetricsSink
	logger  *zap.Logger

	mu            sync.Mutex
	subscriptions []*Subscription
	stopCtx       context.Context
	stop          context.CancelFunc
	wg            sync.WaitGroup
}

func NewListener(
	source LogSource,
	handler EventHandler,
	cfg *ListenerConfig,
	sink *metrics.MetricsSink,
	l *zap.Logger,
) *Listener {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = AllEventKinds
	}
	if sink == nil {
		sink = metrics.NewNoopMetricsSink()
	}
	return &Listener{
		source:  source,
		decoder: NewDecoder(),
		handler: handler,
		config:  cfg,
		metrics: sink,
		logger:  l,
	}
}

func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopCtx, l.stop = context.WithCancel(ctx)

	for _, pool := range l.config.Pools {
		sub, err := Subscribe(l.stopCtx, l.source, l.decoder, pool, l.config.Kinds, &SubscriptionOptions{
			Backoffs: l.config.Backoffs,
			Metrics:  l.metrics,
		}, l.logger)
		if err != nil {
			l.stop()
			return err
		}
		l.subscriptions = append(l.subscriptions, sub)

		queue := make(chan StakingEvent, l.config.QueueSize)
		l.wg.Add(2)
		go l.pump(sub, queue)
		go l.work(sub.Pool(), queue)
	}
	l.logger.Sugar().Infow("Listener started",
		zap.Int("pools", len(l.config.Pools)),
		zap.Int("queueSize", l.config.QueueSize),
	)
	return nil
}

// Stop closes every subscription and waits for the workers. A worker finishes the event it is
// handling; events still queued are discarded.
func (l *Listener) Stop() {
	l.mu.Lock()
	subs := l.subscriptions
	l.subscriptions = nil
	if l.stop != nil {
		l.stop()
	}
	l.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	l.wg.Wait()
	l.logger.Sugar().Infow("Listener stopped")
}

func (l *Listener) pump(sub *Subscription, queue chan StakingEvent) {
	defer l.wg.Done()
	defer close(queue)

	for event := range sub.Events() {
		l.offer(queue, event)
	}
}

// offer enqueues without blocking. It reports false when the event was dropped.
func (l *Listener) offer(queue chan StakingEvent, event StakingEvent) bool {
	labels := []metricsTypes.MetricsLabel{
		{Name: "pool", Value: event.Meta().Pool},
		{Name: "event", Value: string(event.Kind())},
	}
	l.metrics.Incr(metricsTypes.Metric_Incr_ListenerEventReceived, labels, 1)

	select {
	case queue <- event:
		return true
	default:
		l.logger.Sugar().Errorw("Event queue full, dropping event",
			zap.String("pool", event.Meta().Pool),
			zap.String("event", string(event.Kind())),
			zap.String("txHash", event.Meta().TxId),
			zap.Int("queueSize", cap(queue)),
		)
		l.metrics.Incr(metricsTypes.Metric_Incr_ListenerEventDropped, labels, 1)
		return false
	}
}

func (l *Listener) work(pool string, queue chan StakingEvent) {
	defer l.wg.Done()

	discarded := 0
	for event := range queue {
		if l.stopCtx.Err() != nil {
			discarded++
			continue
		}
		// the write for an event already taken off the queue is allowed to finish
		processCtx := context.WithoutCancel(l.stopCtx)
		if err := l.handler.HandleEvent(processCtx, event); err != nil {
			l.logger.Sugar().Errorw("Failed to handle event",
				zap.String("pool", pool),
				zap.String("event", string(event.Kind())),
				zap.String("txHash", event.Meta().TxId),
				zap.Error(err),
			)
		}
	}
	if discarded > 0 {
		l.logger.Sugar().Warnw("Discarded queued events on shutdown",
			zap.String("pool", pool),
			zap.Int("count", discarded),
		)
	}
}

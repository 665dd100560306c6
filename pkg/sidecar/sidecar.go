package sidecar

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/pkg/lock"
	"github.com/lira-dao/staking-sidecar/pkg/settlement"
	"go.uber.org/zap"
)

const (
	Job_SettleStakeRewards        = "settle-stake-rewards"
	Job_DistributeReferralRewards = "distribute-referral-rewards"
)

type EventListener interface {
	Start(ctx context.Context) error
	Stop()
}

type SettlementRunner interface {
	SettleStakeRewards(ctx context.Context) (*settlement.RunResult, error)
	DistributeReferralRewards(ctx context.Context) (*settlement.RunResult, error)
}

type JobScheduler interface {
	AddCronJob(name string, expression string, fn func(ctx context.Context) error) error
	RunNow(name string) error
	NextRun(name string) (time.Time, error)
	Start()
	Shutdown() error
}

type SidecarConfig struct {
	StakeSchedule    string
	ReferralSchedule string
	// RunOnStart triggers both jobs right after startup.
	RunOnStart bool
}

func ConvertGlobalConfigToSidecarConfig(cfg *config.Config) *SidecarConfig {
	return &SidecarConfig{
		StakeSchedule:    cfg.SettlementConfig.Schedule,
		ReferralSchedule: cfg.SettlementConfig.ReferralSchedule,
		RunOnStart:       cfg.SettlementConfig.RunOnStart,
	}
}

// Sidecar ties the listener and the settlement schedule to the process lifecycle.
type Sidecar struct {
	Logger    *zap.Logger
	Config    *SidecarConfig
	Listener  EventListener
	Batcher   SettlementRunner
	Scheduler JobScheduler

	started        atomic.Bool
	shouldShutdown atomic.Bool
	shutdownOnce   sync.Once
	drained        chan struct{}
}

func NewSidecar(
	cfg *SidecarConfig,
	listener EventListener,
	batcher SettlementRunner,
	sched JobScheduler,
	l *zap.Logger,
) *Sidecar {
	return &Sidecar{
		Logger:    l,
		Config:    cfg,
		Listener:  listener,
		Batcher:   batcher,
		Scheduler: sched,
		drained:   make(chan struct{}),
	}
}

// Start subscribes to every pool and schedules settlement. It returns once everything is running.
func (s *Sidecar) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("sidecar already started")
	}
	s.Logger.Sugar().Info("Starting sidecar")

	if err := s.Scheduler.AddCronJob(Job_SettleStakeRewards, s.Config.StakeSchedule, s.settleStakeRewards); err != nil {
		return err
	}
	if err := s.Scheduler.AddCronJob(Job_DistributeReferralRewards, s.Config.ReferralSchedule, s.distributeReferralRewards); err != nil {
		return err
	}

	if err := s.Listener.Start(ctx); err != nil {
		return err
	}
	s.Scheduler.Start()

	s.Logger.Sugar().Infow("Sidecar started",
		zap.String("stakeSchedule", s.Config.StakeSchedule),
		zap.String("referralSchedule", s.Config.ReferralSchedule),
	)
	for _, job := range []string{Job_SettleStakeRewards, Job_DistributeReferralRewards} {
		if next, err := s.Scheduler.NextRun(job); err == nil {
			s.Logger.Sugar().Infow("Next settlement run", zap.String("job", job), zap.Time("at", next))
		}
	}

	if s.Config.RunOnStart {
		for _, job := range []string{Job_SettleStakeRewards, Job_DistributeReferralRewards} {
			if err := s.Scheduler.RunNow(job); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sidecar) settleStakeRewards(ctx context.Context) error {
	if s.shouldShutdown.Load() {
		return nil
	}
	_, err := s.Batcher.SettleStakeRewards(ctx)
	if errors.Is(err, lock.ErrRunInProgress) {
		return nil
	}
	return err
}

func (s *Sidecar) distributeReferralRewards(ctx context.Context) error {
	if s.shouldShutdown.Load() {
		return nil
	}
	_, err := s.Batcher.DistributeReferralRewards(ctx)
	if errors.Is(err, lock.ErrRunInProgress) {
		return nil
	}
	return err
}

// Drained closes once Shutdown has finished.
func (s *Sidecar) Drained() <-chan struct{} {
	return s.drained
}

// Shutdown stops accepting events and new runs. The returned channel closes once an in-flight
// settlement run has finished.
func (s *Sidecar) Shutdown() <-chan struct{} {
	s.shutdownOnce.Do(func() {
		s.shouldShutdown.Store(true)
		s.Logger.Sugar().Info("Shutting down sidecar")
		go func() {
			defer close(s.drained)
			s.Listener.Stop()
			if err := s.Scheduler.Shutdown(); err != nil {
				s.Logger.Sugar().Errorw("Failed to stop scheduler", zap.Error(err))
			}
			s.Logger.Sugar().Info("Sidecar stopped")
		}()
	})
	return s.drained
}

package cmd

import (
	"context"
	"time"

	"github.com/lira-dao/staking-sidecar/internal/config"
	prometheusServer "github.com/lira-dao/staking-sidecar/internal/metrics/prometheus"
	"github.com/lira-dao/staking-sidecar/internal/shutdown"
	"github.com/lira-dao/staking-sidecar/pkg/clients/ethereum"
	"github.com/lira-dao/staking-sidecar/pkg/ledger"
	"github.com/lira-dao/staking-sidecar/pkg/referrals"
	"github.com/lira-dao/staking-sidecar/pkg/rewards"
	"github.com/lira-dao/staking-sidecar/pkg/scheduler"
	"github.com/lira-dao/staking-sidecar/pkg/sidecar"
	"github.com/lira-dao/staking-sidecar/pkg/stakingEvents"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for staking events and settle rewards on schedule",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.NewConfig()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		l := newLogger(cfg, "sidecar")

		if err := cfg.ValidateListener(); err != nil {
			l.Sugar().Fatalw("Invalid listener configuration", zap.Error(err))
		}

		sink, pm, err := newMetricsSink(cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup metrics", zap.Error(err))
		}
		if pm != nil {
			ps := prometheusServer.NewPrometheusServer(&prometheusServer.PrometheusServerConfig{
				Port: cfg.PrometheusConfig.Port,
			}, pm.Registry, l)
			if err := ps.Start(ctx); err != nil {
				l.Sugar().Fatalw("Failed to start prometheus server", zap.Error(err))
			}
		}

		grm, err := openDatabase(cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to open database", zap.Error(err))
		}

		batcher, err := newBatcher(cfg, grm, sink, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup settlement", zap.Error(err))
		}

		accountant := rewards.NewAccountant(
			referrals.NewResolver(grm, l),
			ledger.NewLedger(grm, l),
			cfg,
			sink,
			l,
		)

		pools := make([]string, 0, len(cfg.StakingConfig.Pools))
		for _, p := range cfg.StakingConfig.Pools {
			pools = append(pools, p.Address)
		}
		logSource := ethereum.NewLogSubscriber(cfg.EthereumRpcConfig.WsUrl, l)
		defer logSource.Close()

		listener := stakingEvents.NewListener(logSource, accountant, &stakingEvents.ListenerConfig{
			Pools:     pools,
			QueueSize: cfg.ListenerConfig.QueueSize,
		}, sink, l)

		sched, err := scheduler.NewScheduler(&scheduler.SchedulerConfig{}, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to create scheduler", zap.Error(err))
		}

		sc := sidecar.NewSidecar(sidecar.ConvertGlobalConfigToSidecarConfig(cfg), listener, batcher, sched, l)
		if err := sc.Start(ctx); err != nil {
			l.Sugar().Fatalw("Failed to start sidecar", zap.Error(err))
		}

		gracefulShutdown := shutdown.CreateGracefulShutdownChannel()
		shutdown.ListenForShutdown(gracefulShutdown, sc.Drained(), func() {
			l.Sugar().Info("Shutting down...")
			sc.Shutdown()
			cancel()
		}, scheduler.DefaultStopTimeout+5*time.Second, l)
	},
}

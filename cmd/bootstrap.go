package cmd

import (
	"fmt"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/internal/logger"
	"github.com/lira-dao/staking-sidecar/internal/metrics"
	"github.com/lira-dao/staking-sidecar/internal/metrics/prometheus"
	"github.com/lira-dao/staking-sidecar/pkg/clients/ethereum"
	"github.com/lira-dao/staking-sidecar/pkg/ledger"
	"github.com/lira-dao/staking-sidecar/pkg/lock"
	"github.com/lira-dao/staking-sidecar/pkg/postgres"
	"github.com/lira-dao/staking-sidecar/pkg/postgres/migrations"
	"github.com/lira-dao/staking-sidecar/pkg/settlement"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const settlementLeaseKey = "staking-sidecar:settlement"

func newLogger(cfg *config.Config, component string) *zap.Logger {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug, Component: component})
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	return l
}

// openDatabase connects to postgres, creating the database if needed, and applies every migration.
func openDatabase(cfg *config.Config, l *zap.Logger) (*gorm.DB, error) {
	pgConfig := postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig)
	pgConfig.CreateDbIfNotExists = true

	pg, err := postgres.NewPostgres(pgConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup postgres connection")
	}

	grm, err := postgres.NewGormFromPostgresConnection(pg.Db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gorm instance")
	}

	migrator := migrations.NewMigrator(pg.Db, grm, l, cfg)
	if err = migrator.MigrateAll(); err != nil {
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return grm, nil
}

func newMetricsSink(cfg *config.Config, l *zap.Logger) (*metrics.MetricsSink, *prometheus.PrometheusMetricsClient, error) {
	clients, pm, err := metrics.InitMetricsSinksFromConfig(cfg, l)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to setup metrics")
	}
	return metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, clients, l), pm, nil
}

// newSettlementLocker serializes runs in process, then across every process sharing the database
// through a postgres advisory lock, and adds a redis lease when redis is configured.
func newSettlementLocker(cfg *config.Config, grm *gorm.DB, l *zap.Logger) (lock.Locker, error) {
	db, err := grm.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database handle for the settlement lock")
	}
	chain := lock.Chain{
		lock.NewSingleFlight(),
		lock.NewPostgresAdvisory(db, settlementLeaseKey, l),
	}
	if cfg.RedisConfig.Url == "" {
		return chain, nil
	}
	opts, err := redis.ParseURL(cfg.RedisConfig.Url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	lease := lock.NewRedisLease(redis.NewClient(opts), &lock.RedisLeaseConfig{
		Key: settlementLeaseKey,
		Ttl: cfg.RedisConfig.LockTtl,
	}, l)
	return append(chain, lease), nil
}

func newBatcher(cfg *config.Config, grm *gorm.DB, sink *metrics.MetricsSink, l *zap.Logger) (*settlement.Batcher, error) {
	if err := cfg.ValidateSettlement(); err != nil {
		return nil, err
	}

	client := ethereum.NewClient(ethereum.ConvertGlobalConfigToEthereumConfig(&cfg.EthereumRpcConfig), l)
	pool := ethereum.NewClientPool(l)
	pool.AddNetwork(string(cfg.Chain), client)

	signer, err := settlement.NewSigner(&settlement.SignerConfig{
		PrivateKey:        cfg.TreasuryConfig.PrivateKey,
		ChainId:           cfg.SettlementConfig.ChainId,
		MaxPriorityFeeWei: cfg.SettlementConfig.MaxPriorityFeeWei,
	})
	if err != nil {
		return nil, err
	}

	locker, err := newSettlementLocker(cfg, grm, l)
	if err != nil {
		return nil, err
	}

	return settlement.NewBatcher(
		settlement.ConvertGlobalConfigToBatcherConfig(cfg),
		client,
		pool,
		ledger.NewLedger(grm, l),
		signer,
		locker,
		sink,
		l,
	)
}

package lock

import (
	"context"
	"testing"

	"github.com/lira-dao/staking-sidecar/internal/tests"
	"github.com/lira-dao/staking-sidecar/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func Test_AdvisoryKey(t *testing.T) {
	t.Run("Should derive a stable key per name", func(t *testing.T) {
		assert.Equal(t, AdvisoryKey("staking-sidecar:settlement"), AdvisoryKey("staking-sidecar:settlement"))
		assert.NotEqual(t, AdvisoryKey("staking-sidecar:settlement"), AdvisoryKey("staking-sidecar:other"))
	})
}

func Test_PostgresAdvisory(t *testing.T) {
	tests.SkipWithoutPostgres(t)
	ctx := context.Background()

	l := zap.NewNop()
	cfg := tests.GetConfig()
	cfg.DatabaseConfig = *tests.GetDbConfigFromEnv()
	dbname, db, grm, err := postgres.GetTestPostgresDatabase(cfg.DatabaseConfig, cfg, l)
	require.Nil(t, err)
	t.Cleanup(func() {
		postgres.TeardownTestDatabase(dbname, cfg, grm, l)
	})

	t.Run("Should refuse a second holder until the first releases", func(t *testing.T) {
		first := NewPostgresAdvisory(db, "settlement-a", l)
		second := NewPostgresAdvisory(db, "settlement-a", l)

		release, err := first.Acquire(ctx)
		require.Nil(t, err)

		_, err = second.Acquire(ctx)
		assert.ErrorIs(t, err, ErrRunInProgress)

		release()
		release()

		release2, err := second.Acquire(ctx)
		require.Nil(t, err)
		release2()
	})
	t.Run("Should not contend across different names", func(t *testing.T) {
		release, err := NewPostgresAdvisory(db, "settlement-a", l).Acquire(ctx)
		require.Nil(t, err)
		defer release()

		other, err := NewPostgresAdvisory(db, "settlement-b", l).Acquire(ctx)
		require.Nil(t, err)
		other()
	})
	t.Run("Should release the in-process link when the database link is held elsewhere", func(t *testing.T) {
		holder, err := NewPostgresAdvisory(db, "settlement-c", l).Acquire(ctx)
		require.Nil(t, err)

		single := NewSingleFlight()
		chain := Chain{single, NewPostgresAdvisory(db, "settlement-c", l)}
		_, err = chain.Acquire(ctx)
		assert.ErrorIs(t, err, ErrRunInProgress)

		release, err := single.Acquire(ctx)
		require.Nil(t, err)
		release()
		holder()

		releaseChain, err := chain.Acquire(ctx)
		require.Nil(t, err)
		releaseChain()
	})
}

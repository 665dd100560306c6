package migrations

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setup(t *testing.T) *gorm.DB {
	grm, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.Nil(t, err)
	return grm
}

func Test_Migrator(t *testing.T) {
	grm := setup(t)
	rawDb, err := grm.DB()
	require.Nil(t, err)
	rawDb.SetMaxOpenConns(1)

	migrator := NewMigrator(rawDb, grm, zap.NewNop(), &config.Config{})

	t.Run("Should create every table", func(t *testing.T) {
		require.Nil(t, migrator.MigrateAll())

		for _, table := range []string{"referral", "stake_rewards", "referral_rewards", "settlement_runs"} {
			assert.True(t, grm.Migrator().HasTable(table), table)
		}

		var count int64
		grm.Model(&Migrations{}).Count(&count)
		assert.Equal(t, int64(4), count)
	})
	t.Run("Should be a no-op when run again", func(t *testing.T) {
		require.Nil(t, migrator.MigrateAll())

		var count int64
		grm.Model(&Migrations{}).Count(&count)
		assert.Equal(t, int64(4), count)
	})
	t.Run("Should enforce the referral level range", func(t *testing.T) {
		res := grm.Exec(`insert into referral_rewards (referrer_address, token_addresses, amounts, harvest_tx_id, level) values ('0xa', '[]', '[]', '0x1', 4)`)
		assert.NotNil(t, res.Error)
	})
	t.Run("Should allow one settlement row per run", func(t *testing.T) {
		insert := `insert into settlement_runs (run_id, kind, tx_hash, raw_tx, record_ids) values ('run-1', 'stake', '0x1', '0x02', '[1]')`
		require.Nil(t, grm.Exec(insert).Error)
		assert.NotNil(t, grm.Exec(insert).Error)

		res := grm.Exec(`insert into settlement_runs (run_id, kind, tx_hash, raw_tx, record_ids) values ('run-2', 'bonus', '0x2', '0x02', '[1]')`)
		assert.NotNil(t, res.Error)
	})
}

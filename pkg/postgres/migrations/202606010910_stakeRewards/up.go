package _202606010910_stakeRewards

import (
	"database/sql"
	"fmt"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/pkg/postgres/helpers"
	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error {
	queries := []string{
		fmt.Sprintf(`create table if not exists stake_rewards (
			id               %s,
			staker_address   varchar not null,
			referrer_address varchar not null,
			token_address    varchar not null,
			staked_amount    %s not null,
			reward_amount    %s not null,
			staking_tx_id    varchar not null,
			reward_tx_id     varchar default null,
			created_at       %s default current_timestamp,
			unique(staker_address),
			unique(staking_tx_id)
		)`, helpers.AutoIncrementPrimaryKey(grm), helpers.NumericType(grm), helpers.NumericType(grm), helpers.TimestampType(grm)),
		`create index if not exists idx_stake_rewards_pending on stake_rewards(token_address) where reward_tx_id is null`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202606010910_stakeRewards"
}

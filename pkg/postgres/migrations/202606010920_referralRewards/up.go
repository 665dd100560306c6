package _202606010920_referralRewards

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
		fmt.Sprintf(`create table if not exists referral_rewards (
			id               %s,
			referrer_address varchar not null,
			token_addresses  %s not null,
			amounts          %s not null,
			harvest_tx_id    varchar not null,
			level            integer not null check (level between 1 and 3),
			status           varchar not null default 'pending' check (status in ('pending', 'distributed')),
			reward_tx_id     varchar default null,
			created_at       %s default current_timestamp,
			distributed_at   %s default null,
			unique(referrer_address, harvest_tx_id, level)
		)`, helpers.AutoIncrementPrimaryKey(grm), helpers.JsonType(grm), helpers.JsonType(grm), helpers.TimestampType(grm), helpers.TimestampType(grm)),
		`create index if not exists idx_referral_rewards_pending on referral_rewards(referrer_address) where status = 'pending'`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202606010920_referralRewards"
}

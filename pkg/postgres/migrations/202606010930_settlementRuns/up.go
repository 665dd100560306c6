package _202606010930_settlementRuns

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
		fmt.Sprintf(`create table if not exists settlement_runs (
			id         %s,
			run_id     varchar not null,
			kind       varchar not null check (kind in ('stake', 'referral')),
			tx_hash    varchar not null,
			raw_tx     text not null,
			record_ids %s not null,
			status     varchar not null default 'broadcast' check (status in ('broadcast', 'recorded', 'abandoned')),
			created_at %s default current_timestamp,
			updated_at %s default current_timestamp,
			unique(run_id)
		)`, helpers.AutoIncrementPrimaryKey(grm), helpers.JsonType(grm), helpers.TimestampType(grm), helpers.TimestampType(grm)),
		`create index if not exists idx_settlement_runs_open on settlement_runs(kind) where status = 'broadcast'`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202606010930_settlementRuns"
}

package _202606010900_referral

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
		fmt.Sprintf(`create table if not exists referral (
			referrer   varchar not null,
			referral   varchar not null,
			created_at %s default current_timestamp,
			unique(referral)
		)`, helpers.TimestampType(grm)),
		`create index if not exists idx_referral_referrer on referral(referrer)`,
	}
	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202606010900_referral"
}

package migrations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lira-dao/staking-sidecar/internal/config"
	_202606010900_referral "github.com/lira-dao/staking-sidecar/pkg/postgres/migrations/202606010900_referral"
	_202606010910_stakeRewards "github.com/lira-dao/staking-sidecar/pkg/postgres/migrations/202606010910_stakeRewards"
	_202606010920_referralRewards "github.com/lira-dao/staking-sidecar/pkg/postgres/migrations/202606010920_referralRewards"
	_202606010930_settlementRuns "github.com/lira-dao/staking-sidecar/pkg/postgres/migrations/202606010930_settlementRuns"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Migration interface {
	Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error
	GetName() string
}

type Migrator struct {
	Db           *sql.DB
	GDb          *gorm.DB
	Logger       *zap.Logger
	globalConfig *config.Config
}

func NewMigrator(db *sql.DB, gDb *gorm.DB, l *zap.Logger, cfg *config.Config) *Migrator {
	err := gDb.AutoMigrate(&Migrations{})
	if err != nil {
		l.Sugar().Fatalw("Failed to auto-migrate migrations table", zap.Error(err))
	}
	return &Migrator{
		Db:           db,
		GDb:          gDb,
		Logger:       l,
		globalConfig: cfg,
	}
}

func (m *Migrator) MigrateAll() error {
	migrations := []Migration{
		&_202606010900_referral.Migration{},
		&_202606010910_stakeRewards.Migration{},
		&_202606010920_referralRewards.Migration{},
		&_202606010930_settlementRuns.Migration{},
	}

	for _, migration := range migrations {
		if err := m.Migrate(migration); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) Migrate(migration Migration) error {
	name := migration.GetName()

	// find migration by name
	var migrationRecord Migrations
	result := m.GDb.Find(&migrationRecord, "name = ?", name).Limit(1)

	if result.Error == nil && result.RowsAffected == 0 {
		m.Logger.Sugar().Infof("Running migration '%s'", name)
		if err := migration.Up(m.Db, m.GDb, m.globalConfig); err != nil {
			m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to run migration '%s'", name), zap.Error(err))
			return err
		}

		migrationRecord = Migrations{
			Name: name,
		}
		result = m.GDb.Create(&migrationRecord)
		if result.Error != nil {
			m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to record migration '%s'", name), zap.Error(result.Error))
			return result.Error
		}
	} else if result.Error != nil {
		m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to find migration '%s'", name), zap.Error(result.Error))
		return result.Error
	} else if result.RowsAffected > 0 {
		m.Logger.Sugar().Debugf("Migration %s already run", name)
		return nil
	}
	return nil
}

type Migrations struct {
	Name      string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"default:current_timestamp"`
	UpdatedAt time.Time `gorm:"default:null"`
}

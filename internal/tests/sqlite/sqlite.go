package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/lira-dao/staking-sidecar/pkg/postgres/migrations"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GetInMemorySqliteDatabaseConnection opens a private in-memory database with every migration applied.
func GetInMemorySqliteDatabaseConnection(l *zap.Logger) (*gorm.DB, error) {
	name, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	grm, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name.String())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	rawDb, err := grm.DB()
	if err != nil {
		return nil, err
	}
	// one connection keeps the shared in-memory database alive and writes serialized
	rawDb.SetMaxOpenConns(1)

	migrator := migrations.NewMigrator(rawDb, grm, l, &config.Config{})
	if err := migrator.MigrateAll(); err != nil {
		return nil, err
	}
	return grm, nil
}

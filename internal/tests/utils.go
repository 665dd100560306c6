package tests

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/lira-dao/staking-sidecar/internal/config"
)

func GetConfig() *config.Config {
	return config.NewConfig()
}

// GetDbConfigFromEnv reads the postgres connection used by integration tests.
func GetDbConfigFromEnv() *config.DatabaseConfig {
	port, err := strconv.Atoi(config.StringWithDefault(os.Getenv("STAKING_SIDECAR_DATABASE_PORT"), "5432"))
	if err != nil {
		port = 5432
	}
	return &config.DatabaseConfig{
		Host:     config.StringWithDefault(os.Getenv("STAKING_SIDECAR_DATABASE_HOST"), "localhost"),
		Port:     port,
		User:     os.Getenv("STAKING_SIDECAR_DATABASE_USER"),
		Password: os.Getenv("STAKING_SIDECAR_DATABASE_PASSWORD"),
		SSLMode:  "disable",
	}
}

func GenerateTestDbName() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("test_%s", strings.ReplaceAll(id.String(), "-", "")), nil
}

// SkipWithoutPostgres skips tests that need a live postgres when none is configured.
func SkipWithoutPostgres(t testing.TB) {
	t.Helper()
	if os.Getenv("STAKING_SIDECAR_DATABASE_USER") == "" {
		t.Skip("STAKING_SIDECAR_DATABASE_USER is not set")
	}
}

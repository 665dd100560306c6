package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "STAKING_SIDECAR"

type Chain string

const (
	Chain_ArbitrumSepolia Chain = "arbitrum-sepolia"
	Chain_Arbitrum        Chain = "arbitrum"
)

// flag/env keys
const (
	Debug = "debug"

	ChainName = "chain"

	EthereumRpcBaseUrl = "ethereum.rpc-url"
	EthereumWsUrl      = "ethereum.ws-url"

	DatabaseHost       = "database.host"
	DatabasePort       = "database.port"
	DatabaseUser       = "database.user"
	DatabasePassword   = "database.password"
	DatabaseDbName     = "database.db_name"
	DatabaseSchemaName = "database.schema_name"
	DatabaseSSLMode    = "database.ssl_mode"

	StakingPools       = "staking.pools"
	StakingRewardToken = "staking.reward-token"

	TreasuryAddress    = "treasury.address"
	TreasuryPrivateKey = "treasury.private-key"

	SettlementSchedule               = "settlement.schedule"
	SettlementReferralSchedule       = "settlement.referral-schedule"
	SettlementReferralDistributionOn = "settlement.referral-distribution-enabled"
	SettlementMaxPriorityFeeWei      = "settlement.max-priority-fee-wei"
	SettlementMulticallAddress       = "settlement.multicall-address"
	SettlementChainId                = "settlement.chain-id"
	SettlementRunOnStart             = "settlement.run-on-start"

	ListenerQueueSize = "listener.queue-size"

	RedisUrl     = "redis.url"
	RedisLockTtl = "redis.lock-ttl"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"

	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample_rate"
)

type EthereumRpcConfig struct {
	BaseUrl string
	WsUrl   string
}

type DatabaseConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	DbName     string
	SchemaName string
	SSLMode    string
}

// Pool is a staking contract and the token it accepts.
type Pool struct {
	Address      string
	TokenAddress string
}

type StakingConfig struct {
	Pools []Pool
	// RewardTokenAddress is the first harvest reward token, paid on every pool.
	RewardTokenAddress string
}

type TreasuryConfig struct {
	Address    string
	PrivateKey string
}

type SettlementConfig struct {
	Schedule                    string
	ReferralSchedule            string
	ReferralDistributionEnabled bool
	MaxPriorityFeeWei           uint64
	MulticallAddress            string
	ChainId                     uint64
	RunOnStart                  bool
}

type ListenerConfig struct {
	QueueSize int
}

type RedisConfig struct {
	Url     string
	LockTtl time.Duration
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

type StatsdConfig struct {
	Enabled    bool
	Url        string
	SampleRate float64
}

type DataDogConfig struct {
	StatsdConfig StatsdConfig
}

type Config struct {
	Debug             bool
	Chain             Chain
	EthereumRpcConfig EthereumRpcConfig
	DatabaseConfig    DatabaseConfig
	StakingConfig     StakingConfig
	TreasuryConfig    TreasuryConfig
	SettlementConfig  SettlementConfig
	ListenerConfig    ListenerConfig
	RedisConfig       RedisConfig
	PrometheusConfig  PrometheusConfig
	DataDogConfig     DataDogConfig

	poolsErr error
}

func StringWithDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func IntWithDefault(value, defaultValue int) int {
	if value == 0 {
		return defaultValue
	}
	return value
}

func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}

func normalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}

// NewConfig reads every bound flag and environment variable once. The returned value is treated
// as immutable and handed to each component at startup.
func NewConfig() *Config {
	chain := Chain(StringWithDefault(viper.GetString(normalizeFlagName(ChainName)), string(Chain_ArbitrumSepolia)))

	cfg := &Config{
		Debug: viper.GetBool(normalizeFlagName(Debug)),
		Chain: chain,

		EthereumRpcConfig: EthereumRpcConfig{
			BaseUrl: viper.GetString(normalizeFlagName(EthereumRpcBaseUrl)),
			WsUrl:   viper.GetString(normalizeFlagName(EthereumWsUrl)),
		},

		DatabaseConfig: DatabaseConfig{
			Host:       viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:       viper.GetInt(normalizeFlagName(DatabasePort)),
			User:       viper.GetString(normalizeFlagName(DatabaseUser)),
			Password:   viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:     viper.GetString(normalizeFlagName(DatabaseDbName)),
			SchemaName: viper.GetString(normalizeFlagName(DatabaseSchemaName)),
			SSLMode:    viper.GetString(normalizeFlagName(DatabaseSSLMode)),
		},

		StakingConfig: StakingConfig{
			RewardTokenAddress: strings.ToLower(viper.GetString(normalizeFlagName(StakingRewardToken))),
		},

		TreasuryConfig: TreasuryConfig{
			Address:    strings.ToLower(viper.GetString(normalizeFlagName(TreasuryAddress))),
			PrivateKey: viper.GetString(normalizeFlagName(TreasuryPrivateKey)),
		},

		SettlementConfig: SettlementConfig{
			Schedule:                    StringWithDefault(viper.GetString(normalizeFlagName(SettlementSchedule)), "0 2 * * *"),
			ReferralSchedule:            StringWithDefault(viper.GetString(normalizeFlagName(SettlementReferralSchedule)), "0 3 * * *"),
			ReferralDistributionEnabled: viper.GetBool(normalizeFlagName(SettlementReferralDistributionOn)),
			MaxPriorityFeeWei:           viper.GetUint64(normalizeFlagName(SettlementMaxPriorityFeeWei)),
			MulticallAddress:            strings.ToLower(viper.GetString(normalizeFlagName(SettlementMulticallAddress))),
			ChainId:                     viper.GetUint64(normalizeFlagName(SettlementChainId)),
			RunOnStart:                  viper.GetBool(normalizeFlagName(SettlementRunOnStart)),
		},

		ListenerConfig: ListenerConfig{
			QueueSize: IntWithDefault(viper.GetInt(normalizeFlagName(ListenerQueueSize)), 1000),
		},

		RedisConfig: RedisConfig{
			Url:     viper.GetString(normalizeFlagName(RedisUrl)),
			LockTtl: viper.GetDuration(normalizeFlagName(RedisLockTtl)),
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    viper.GetInt(normalizeFlagName(PrometheusPort)),
		},

		DataDogConfig: DataDogConfig{
			StatsdConfig: StatsdConfig{
				Enabled:    viper.GetBool(normalizeFlagName(DataDogStatsdEnabled)),
				Url:        viper.GetString(normalizeFlagName(DataDogStatsdUrl)),
				SampleRate: viper.GetFloat64(normalizeFlagName(DataDogStatsdSampleRate)),
			},
		},
	}

	cfg.StakingConfig.Pools, cfg.poolsErr = ParsePools(viper.GetStringSlice(normalizeFlagName(StakingPools)))

	if cfg.SettlementConfig.MaxPriorityFeeWei == 0 {
		cfg.SettlementConfig.MaxPriorityFeeWei = 100000
	}
	if cfg.RedisConfig.LockTtl == 0 {
		cfg.RedisConfig.LockTtl = 10 * time.Minute
	}
	if chainCfg, ok := ChainConfigs[cfg.Chain]; ok {
		if cfg.SettlementConfig.MulticallAddress == "" {
			cfg.SettlementConfig.MulticallAddress = chainCfg.MulticallAddress
		}
		if cfg.SettlementConfig.ChainId == 0 {
			cfg.SettlementConfig.ChainId = chainCfg.ChainId
		}
	}
	return cfg
}

// ParsePools parses "poolAddress=tokenAddress" pairs.
func ParsePools(entries []string) ([]Pool, error) {
	// env values arrive as one comma separated string
	flattened := make([]string, 0, len(entries))
	for _, entry := range entries {
		flattened = append(flattened, strings.Split(entry, ",")...)
	}

	pools := make([]Pool, 0, len(flattened))
	for _, entry := range flattened {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid pool entry '%s', expected <pool>=<token>", entry)
		}
		pool, token := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if !common.IsHexAddress(pool) || !common.IsHexAddress(token) {
			return nil, fmt.Errorf("invalid address in pool entry '%s'", entry)
		}
		pools = append(pools, Pool{
			Address:      strings.ToLower(pool),
			TokenAddress: strings.ToLower(token),
		})
	}
	return pools, nil
}

// GetPoolTokenAddress returns the staked token for a pool.
func (c *Config) GetPoolTokenAddress(pool string) (string, bool) {
	for _, p := range c.StakingConfig.Pools {
		if strings.EqualFold(p.Address, pool) {
			return p.TokenAddress, true
		}
	}
	return "", false
}

// ValidateListener checks everything required to ingest staking events.
func (c *Config) ValidateListener() error {
	if c.poolsErr != nil {
		return c.poolsErr
	}
	if c.EthereumRpcConfig.WsUrl == "" {
		return errors.New("ethereum.ws-url is required")
	}
	if len(c.StakingConfig.Pools) == 0 {
		return errors.New("at least one staking pool is required (staking.pools)")
	}
	if !common.IsHexAddress(c.StakingConfig.RewardTokenAddress) {
		return errors.New("staking.reward-token must be a valid address")
	}
	return nil
}

// ValidateSettlement checks everything required to sign and broadcast settlement transactions.
// A failure here must keep the settlement batcher from starting at all.
func (c *Config) ValidateSettlement() error {
	if c.EthereumRpcConfig.BaseUrl == "" {
		return errors.New("ethereum.rpc-url is required")
	}
	if !common.IsHexAddress(c.TreasuryConfig.Address) {
		return errors.New("treasury.address must be a valid address")
	}
	if c.TreasuryConfig.PrivateKey == "" {
		return errors.New("treasury.private-key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.TreasuryConfig.PrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("treasury.private-key is invalid: %w", err)
	}
	if !strings.EqualFold(crypto.PubkeyToAddress(key.PublicKey).Hex(), c.TreasuryConfig.Address) {
		return errors.New("treasury.private-key does not match treasury.address")
	}
	if !common.IsHexAddress(c.SettlementConfig.MulticallAddress) {
		return fmt.Errorf("no multicall address known for chain '%s'", c.Chain)
	}
	if c.SettlementConfig.ChainId == 0 {
		return fmt.Errorf("no chain id known for chain '%s'", c.Chain)
	}
	return nil
}

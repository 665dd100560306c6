package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "staking-sidecar",
	Short: "Tracks staking pool events and pays referral rewards from the treasury",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().StringP(config.ChainName, "c", string(config.Chain_ArbitrumSepolia), "The chain to use (arbitrum, arbitrum-sepolia)")

	rootCmd.PersistentFlags().String(config.EthereumRpcBaseUrl, "", `e.g. "http://<hostname>:8545"`)
	rootCmd.PersistentFlags().String(config.EthereumWsUrl, "", `e.g. "ws://<hostname>:8546"`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "sidecar", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "staking_sidecar", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL ssl mode`)

	rootCmd.PersistentFlags().StringSlice(config.StakingPools, nil, `Staking pools as "poolAddress=tokenAddress", comma separated`)
	rootCmd.PersistentFlags().String(config.StakingRewardToken, "", `Address of the first harvest reward token`)

	rootCmd.PersistentFlags().String(config.TreasuryAddress, "", `Treasury wallet that funds every reward`)
	rootCmd.PersistentFlags().String(config.TreasuryPrivateKey, "", `Hex encoded treasury private key`)

	rootCmd.PersistentFlags().String(config.SettlementSchedule, "0 2 * * *", `Cron schedule for stake reward settlement`)
	rootCmd.PersistentFlags().String(config.SettlementReferralSchedule, "0 3 * * *", `Cron schedule for referral reward distribution`)
	rootCmd.PersistentFlags().Bool(config.SettlementReferralDistributionOn, false, `Send referral distributions instead of only logging them`)
	rootCmd.PersistentFlags().Uint64(config.SettlementMaxPriorityFeeWei, 100000, `maxPriorityFeePerGas in wei`)
	rootCmd.PersistentFlags().String(config.SettlementMulticallAddress, "", `Multicall contract (defaults to the chain's known deployment)`)
	rootCmd.PersistentFlags().Uint64(config.SettlementChainId, 0, `Chain id used for signing (defaults to the chain's id)`)
	rootCmd.PersistentFlags().Bool(config.SettlementRunOnStart, false, `Run both settlement jobs once at startup, closing out anything a previous process left open`)

	rootCmd.PersistentFlags().Int(config.ListenerQueueSize, 1000, `Events buffered per pool before new ones are dropped`)

	rootCmd.PersistentFlags().String(config.RedisUrl, "", `e.g. "redis://localhost:6379/0", enables the shared settlement lease`)
	rootCmd.PersistentFlags().Duration(config.RedisLockTtl, 10*time.Minute, `How long a settlement lease lives without release`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `The sample rate to use for statsd metrics`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	// setup sub commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(settleCmd)
	rootCmd.AddCommand(referralCmd)
	rootCmd.AddCommand(rewardsCmd)
	rootCmd.AddCommand(runDatabaseCmd)
	rootCmd.AddCommand(runVersionCmd)

	settleCmd.Flags().String(settleKindFlag, "stake", `Which rewards to settle: "stake" or "referral"`)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}

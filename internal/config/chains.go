package config

type ChainConfig struct {
	ChainId          uint64
	MulticallAddress string
}

var ChainConfigs = map[Chain]ChainConfig{
	Chain_ArbitrumSepolia: {
		ChainId:          421614,
		MulticallAddress: "0xa115146782b7143fadb3065d86eacb54c169d092",
	},
	Chain_Arbitrum: {
		ChainId:          42161,
		MulticallAddress: "0x842ec2c7d803033edf55e478f461fc547bc54eb2",
	},
}

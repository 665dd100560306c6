package version

// set at build time with -ldflags "-X github.com/lira-dao/staking-sidecar/internal/version.Version=..."
var (
	Version = "unknown"
	Commit  = "unknown"
)

func GetVersion() string {
	return Version
}

func GetCommit() string {
	return Commit
}

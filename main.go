package main

import "github.com/lira-dao/staking-sidecar/cmd"

func main() {
	cmd.Execute()
}

package config

import (
	"flag"
	"os"

	"github.com/dotheaven/heaven-core/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-r string   chain RPC endpoint URL
//	-g string   sponsored-transaction gateway URL
//	-n string   threshold network name
//	-k string   keystore file path
//	-d string   local database DSN
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-r", "-g", "-n", "-k", "-d"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ChainRPCURL, "r", cfg.ChainRPCURL, "chain RPC endpoint URL")
	fs.StringVar(&cfg.GatewayURL, "g", cfg.GatewayURL, "sponsored-transaction gateway URL")
	fs.StringVar(&cfg.ThresholdNetwork, "n", cfg.ThresholdNetwork, "threshold network name")
	fs.StringVar(&cfg.KeystorePath, "k", cfg.KeystorePath, "keystore file path")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "local database DSN")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}

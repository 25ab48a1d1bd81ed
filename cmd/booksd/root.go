package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/books-engine/config"
)

var version = "0.1.0"

type rootOptions struct {
	v          *viper.Viper
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:   "booksd",
		Short: "Embedded sales ledger: invoices, tax, double-entry journal, FIFO stock, audit chain",
		Long: `booksd records sales against a local SQLite ledger. Every sale posts its
invoice, tax rows, journal entry, stock movements and a hash-linked audit
record in one transaction, or nothing at all.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default ./books.yaml if present)")
	flags.String("db", "", "SQLite database path, \":memory:\" for a throwaway database")
	flags.String("log-level", "", "trace, debug, info, warn, error")
	flags.String("log-format", "", "console or json")
	flags.String("stockout-policy", "", "allow or reject shipments not backed by batches")
	_ = opts.v.BindPFlag("db_path", flags.Lookup("db"))
	_ = opts.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = opts.v.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = opts.v.BindPFlag("stockout_policy", flags.Lookup("stockout-policy"))

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newVerifyCmd(opts),
		newSeedCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.v, o.configFile)
}

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd builds the command tree around its own viper instance.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "dstrace",
		Short:         "Trace database/sql connections, queries and fetches",
		Long:          `dstrace opens a database through the dstrace driver wrapper, runs statements and prints the span tree of every connection, query and fetch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dstrace.yaml)")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres, pgx, mysql)")
	rootCmd.PersistentFlags().String("dsn", ":memory:", "data source name passed to the driver")

	// Tracing flags
	rootCmd.PersistentFlags().String("datasource", "", "data source name used in span names")
	rootCmd.PersistentFlags().String("include", "", "traced categories: connection,query,fetch (default: all)")
	rootCmd.PersistentFlags().Bool("row-count", true, "tag spans with affected and fetched row counts")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	// Bind flags to viper
	_ = v.BindPFlag("driver", rootCmd.PersistentFlags().Lookup("driver"))
	_ = v.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	_ = v.BindPFlag("datasource.name", rootCmd.PersistentFlags().Lookup("datasource"))
	_ = v.BindPFlag("datasource.include", rootCmd.PersistentFlags().Lookup("include"))
	_ = v.BindPFlag("datasource.row_count", rootCmd.PersistentFlags().Lookup("row-count"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(newQueryCmd(v, &cfgFile))

	return rootCmd
}

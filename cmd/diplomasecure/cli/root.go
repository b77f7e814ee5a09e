// Package cli implements the diplomasecure command-line interface using Cobra.
// It drives the diploma registry, signature ledger, replacement engine and
// audit log directly against the local database, and serves the HTTP API.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/config"
	"github.com/wangue52/diploma-secure/internal/id"
	"github.com/wangue52/diploma-secure/internal/log"
)

var (
	cfgFile  string
	verbose  bool
	logLevel string
	jsonOut  bool
	tenantID string
	actorID  string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config

	// instanceID names a serving process in logs.
	instanceID string
)

var rootCmd = &cobra.Command{
	Use:   "diplomasecure",
	Short: "Diplomasecure - Tamper-evident diploma certification",
	Long: `Diplomasecure records university diplomas, collects signatory signatures
until the tenant quorum is met, replaces diplomas that need correction and
answers public authenticity queries. Every state change lands in a per-tenant
hash-chained audit log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c

		if tenantID == "" {
			tenantID = os.Getenv("DIPLOMASECURE_TENANT")
		}
		if actorID == "" {
			actorID = os.Getenv("DIPLOMASECURE_ACTOR")
		}

		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		if verbose {
			level = "debug"
		}
		stream := log.DefaultStream
		if cmd == serveCmd {
			instanceID = id.Generate("inst")
			stream = "serve-" + instanceID
		}
		if err := log.Init(log.Options{
			Level:         level,
			JSONFormat:    cfg.Log.JSON || jsonOut,
			Dir:           cfg.Log.Dir,
			Stream:        stream,
			RetentionDays: cfg.Log.RetentionDays,
		}); err != nil {
			// Logging falls back to stderr only.
			cmd.PrintErrf("Warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.diplomasecure/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "stderr log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "", "tenant (institution) id (env: DIPLOMASECURE_TENANT)")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "identity recorded in audit entries (env: DIPLOMASECURE_ACTOR)")
}

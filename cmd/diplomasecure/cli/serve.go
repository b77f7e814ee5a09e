package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wangue52/diploma-secure/internal/api"
	"github.com/wangue52/diploma-secure/internal/log"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the operator API under /api/v1 and the rate-limited public
verification endpoint under /api/v1/public/verify/{id}. Prometheus metrics
are exposed on /metrics.

Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := api.New(a, cfg.Server)
	if err != nil {
		return err
	}
	log.SetInstanceID(instanceID)
	log.Info("starting diplomasecure", "addr", cfg.Server.Addr, "db", cfg.Database.Path)
	return srv.Run(ctx)
}

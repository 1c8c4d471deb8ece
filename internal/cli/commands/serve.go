package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/querydeck/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the JSON API for registered databases.

Endpoints:
  GET    /health
  GET    /api/v1/dbs
  GET    /api/v1/dbs/{name}
  PUT    /api/v1/dbs/{name}
  DELETE /api/v1/dbs/{name}
  POST   /api/v1/dbs/{name}/schema/refresh
  POST   /api/v1/dbs/{name}/query
  POST   /api/v1/dbs/{name}/query/natural

The server stops gracefully on SIGINT or SIGTERM.`,
		Example: `  # Serve on the configured port (default 8080)
  querydeck serve

  # Serve on a custom port
  querydeck serve --port 3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().Int("port", 0, "Port to serve on (default: 8080)")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cmdCtx.Cfg
	srv := server.New(server.Config{
		Engine:         cmdCtx.Engine,
		Port:           cfg.Port,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
		Logger:         cmdCtx.Logger,
	})

	cmdCtx.Renderer.Info("querydeck API listening on :%d", cfg.Port)
	return srv.Serve(ctx)
}

package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gendb/internal/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the store and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cfg, err := openStore(cmd, true)
		if err != nil {
			return err
		}
		defer st.Close()

		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		server := http.NewServer(st, st.Metrics(), cfg.Server)
		if err := server.Start(); err != nil {
			return err
		}
		slog.Info("gendb serving", "data", cfg.DB.Path, "instance", st.InstanceID())

		<-ctx.Done()
		slog.Info("shutting down")
		return server.Stop()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "HTTP port, overrides http-server.port")
}

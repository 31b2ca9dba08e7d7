package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"enge/internal/catalog"
	"enge/internal/cli"
	"enge/internal/config"
	"enge/internal/history"
	"enge/internal/results"
	"enge/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the report HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(config.Overrides{})
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("ENGE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return cli.Exit(99, errors.New("ENGE_JWT_SECRET is required for bearer auth"))
			}
			ledger, err := history.Open(cmd.Context(), e.archiveDir())
			if err != nil {
				return err
			}
			defer ledger.Close()
			collector := &results.Collector{
				Client:       e.tf,
				Endpoint:     e.cfg.TestingFarm.EndpointURL,
				ArtifactsURL: e.cfg.TestingFarm.LogArtifactsURL,
				Opts:         results.Options{TargetWidth: catalog.New(e.cfg.Tests.Composes).LongestCompose()},
				Log:          logger,
			}
			handler, err := server.New(server.Config{
				History:      ledger,
				Reports:      collector,
				Endpoint:     e.cfg.TestingFarm.EndpointURL,
				ArtifactsURL: e.cfg.TestingFarm.LogArtifactsURL,
				BasePath:     basePath,
				Auth:         authCfg,
				Log:          logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Infof("Serving the enge API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

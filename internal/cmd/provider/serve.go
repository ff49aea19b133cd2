package provider

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal/config"
	"github.com/openshelf/coverage/internal/postgres"
	"github.com/openshelf/coverage/internal/server"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the status of the configured coverage providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("coverage.serve")

			c, err := config.NewCoverageFromFile(configPath)
			if err != nil {
				return err
			}

			pool, err := config.NewPool(ctx, c)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				return err
			}

			rid := uuid.Must(uuid.NewUUID())
			repository, err := config.NewRepository(c.Repository, rid.String(), l)
			if err != nil {
				return err
			}

			providers, err := config.InitializeProviders(ctx, c, pool, repository, l)
			if err != nil {
				return err
			}

			s := server.New(l)
			for _, p := range providers {
				s.RegisterProvider(p)
			}

			port := c.Server.Port
			if port == 0 {
				port = 8080
			}
			address := fmt.Sprintf(":%d", port)
			l.Info("starting server", zap.Int("port", port))

			return http.ListenAndServe(address, s.Routes())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}

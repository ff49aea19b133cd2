package provider

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal/config"
	"github.com/openshelf/coverage/internal/postgres"
	"github.com/openshelf/coverage/internal/report"
)

func newRunCommand() *cobra.Command {
	var (
		configPath string
		service    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the configured coverage providers once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("coverage.run")

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

			for _, pc := range c.Providers {
				if service != "" && pc.ServiceName != service {
					continue
				}

				rid := uuid.Must(uuid.NewUUID())
				repository, err := config.NewRepository(c.Repository, rid.String(), l)
				if err != nil {
					return err
				}

				p, err := config.InitializeProvider(ctx, pc, pool, repository, l)
				if err != nil {
					return err
				}

				l.Info("starting run",
					zap.String("service", p.ServiceName()),
					zap.String("run_id", rid.String()),
				)

				progress, err := p.Run(ctx)
				if err != nil {
					return err
				}

				r := report.New(rid.String(), p.Config(), progress)
				if err := r.Publish(ctx, repository); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&service, "service", "s", "", "Run only the named provider")
	cmd.MarkFlagRequired("config")

	return cmd
}

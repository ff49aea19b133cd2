package register

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal/config"
	"github.com/openshelf/coverage/internal/coverage"
	"github.com/openshelf/coverage/internal/postgres"
)

// NewCommand registers identifiers for later coverage. Identifier
// values are passed as arguments; registration itself does no vendor
// work.
func NewCommand() *cobra.Command {
	var (
		configPath       string
		service          string
		identifierType   string
		dataSource       string
		collection       string
		force            bool
		autocreateSource bool
	)

	cmd := &cobra.Command{
		Use:   "register [identifiers]",
		Short: "Declares intent to cover the given identifiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("coverage.register")

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

			pc, err := providerConfig(c, service)
			if err != nil {
				return err
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

			items := make([]coverage.Identifier, 0, len(args))
			for _, value := range args {
				items = append(items, coverage.Identifier{Type: identifierType, Value: value})
			}

			// Membership is separate from the coverage record's
			// collection; it controls which providers see the item.
			if collection != "" {
				store := postgres.New(pool, postgres.WithLogger(l))
				for _, item := range items {
					if err := store.AddToCollection(ctx, item, collection); err != nil {
						return err
					}
				}
			}

			registered, skipped, err := p.BulkRegister(ctx, items, coverage.RegisterOptions{
				DataSource: dataSource,
				Collection: collection,
				Autocreate: autocreateSource,
				Force:      force,
			})
			if err != nil {
				return err
			}

			l.Info("registration complete",
				zap.Int("registered", len(registered)),
				zap.Int("skipped", len(skipped)),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&service, "service", "s", "", "Provider to register under (default: the first configured)")
	cmd.Flags().StringVarP(&identifierType, "type", "t", "ISBN", "Identifier type of the arguments")
	cmd.Flags().StringVar(&dataSource, "data-source", "", "Attribute registrations to this data source instead of the provider's")
	cmd.Flags().StringVar(&collection, "collection", "", "Add the identifiers to this collection")
	cmd.Flags().BoolVar(&force, "force", false, "Reset already-attempted records back to registered")
	cmd.Flags().BoolVar(&autocreateSource, "autocreate-source", false, "Create the overriding data source if missing")
	cmd.MarkFlagRequired("config")

	return cmd
}

func providerConfig(c *config.Coverage, service string) (config.Provider, error) {
	if len(c.Providers) == 0 {
		return config.Provider{}, fmt.Errorf("no providers configured")
	}
	if service == "" {
		return c.Providers[0], nil
	}
	for _, pc := range c.Providers {
		if pc.ServiceName == service {
			return pc, nil
		}
	}
	return config.Provider{}, fmt.Errorf("no provider named %q", service)
}

package schema

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal/postgres"
)

func newInitCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "init",
		Short: "Creates the coverage tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("schema.init")

			connStr := viper.GetString("database")
			if connStr == "" {
				return fmt.Errorf("a database connection string is required")
			}

			pool, err := pgxpool.New(ctx, connStr)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				return err
			}

			l.Info("schema ready")
			return nil
		},
	}

	cmd.PersistentFlags().StringP("database", "d", "", "Database connection string")
	viper.BindPFlag("database", cmd.PersistentFlags().Lookup("database"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("COVERAGE")

	return cmd
}

func newPrintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Prints the schema DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s\n", postgres.DDL)
			return nil
		},
	}
}

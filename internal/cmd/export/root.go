package export

import (
	dbsql "database/sql"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/openshelf/coverage/internal/config"
	exp "github.com/openshelf/coverage/internal/export"
	"github.com/openshelf/coverage/internal/parquet"
	"github.com/openshelf/coverage/internal/sql"
)

// NewCommand snapshots coverage state into a parquet artifact.
func NewCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports coverage records to a parquet artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("coverage.export")

			rid := uuid.Must(uuid.NewUUID())
			l.Info("starting export", zap.String("export_id", rid.String()))

			c, err := config.NewCoverageFromFile(configPath)
			if err != nil {
				return err
			}

			db, err := dbsql.Open("pgx", c.Database.ConnectionString)
			if err != nil {
				return err
			}
			if err := db.PingContext(ctx); err != nil {
				return err
			}

			repository, err := config.NewRepository(
				c.Repository,
				path.Join("exports", rid.String()),
				l,
			)
			if err != nil {
				return err
			}

			preserver, err := parquet.New(
				parquet.WithLogger(l),
				parquet.WithSchema(exp.RecordsSchema),
				parquet.WithRepository(repository),
			)
			if err != nil {
				return err
			}

			exporter, err := exp.New(
				exp.WithLogger(l),
				exp.WithSource(sql.NewSource(db,
					sql.WithQuery(exp.RecordsQuery),
					sql.WithName("coveragerecords"),
					sql.WithLogger(l),
				)),
				exp.WithPreserver(preserver),
				exp.WithRepository(repository),
			)
			if err != nil {
				return err
			}
			defer exporter.Close(ctx)

			log, err := exporter.Export(ctx)
			if err != nil {
				return err
			}

			l.Info("export finished",
				zap.Int("num_source_records", log.NumSourceRecords),
				zap.Int("num_records_processed", log.NumRecordsProcessed),
				zap.Bool("completed", log.Completed),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}

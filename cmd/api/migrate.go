package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they were applied",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func connect(cmd *cobra.Command) (*persistence.Postgres, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, nil, errors.New("POSTGRES_DSN is required")
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, nil, err
	}
	pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return pg, logger, nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	pg, logger, err := connect(cmd)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrate up: ok")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	pg, _, err := connect(cmd)
	if err != nil {
		return err
	}
	defer pg.Close()

	states, err := persistence.MigrationStatus(cmd.Context(), pg.PoolHandle())
	if err != nil {
		return err
	}
	for _, st := range states {
		mark := "pending"
		if st.Applied {
			mark = "applied"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%05d  %-8s %s\n", st.Version, mark, st.Path)
	}
	return nil
}

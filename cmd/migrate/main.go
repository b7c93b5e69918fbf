package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/migrations"
	"github.com/spf13/cobra"
)

// options holds the flags shared by every subcommand.
type options struct {
	databaseURL string
	driver      string
	path        string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Fatal("migration failed", "error", err)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the business rules database schema",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Check for database URL from flag or environment
			if opts.databaseURL == "" {
				opts.databaseURL = os.Getenv("DATABASE_URL")
			}
			if opts.databaseURL == "" {
				return errors.New("database URL is required: use --database or DATABASE_URL")
			}
			switch opts.driver {
			case migrations.DriverPostgres, migrations.DriverSQLite:
				return nil
			default:
				return fmt.Errorf("unsupported driver %q (use: postgres, sqlite)", opts.driver)
			}
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database", "", "Database URL (default: $DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.driver, "driver", migrations.DriverPostgres, "Database driver: postgres, sqlite")
	cmd.PersistentFlags().StringVar(&opts.path, "path", "", "Read migrations from this directory instead of the embedded ones")

	cmd.AddCommand(
		newUpCommand(opts),
		newDownCommand(opts),
		newVersionCommand(opts),
		newForceCommand(opts),
	)
	return cmd
}

func newUpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrate(opts, func(m *migrate.Migrate) error {
				logger.Info("running migrations up")
				err := m.Up()
				if errors.Is(err, migrate.ErrNoChange) {
					logger.Info("no migrations to run, database is up to date")
					return nil
				}
				if err != nil {
					return err
				}
				logger.Info("migrations completed")
				return nil
			})
		},
	}
}

func newDownCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrate(opts, func(m *migrate.Migrate) error {
				logger.Info("rolling back migrations")
				if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return err
				}
				logger.Info("rollback completed")
				return nil
			})
		},
	}
}

func newVersionCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrate(opts, func(m *migrate.Migrate) error {
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", version, dirty)
				return nil
			})
		},
	}
}

func newForceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version number %q: %w", args[0], err)
			}
			return withMigrate(opts, func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return err
				}
				logger.Info("forced schema version", "version", version)
				return nil
			})
		},
	}
}

func withMigrate(opts *options, fn func(*migrate.Migrate) error) error {
	var (
		m   *migrate.Migrate
		err error
	)
	if opts.path != "" {
		logger.Info("using migrations from disk", "path", opts.path)
		m, err = migrations.NewFromDir(opts.driver, opts.path, opts.databaseURL)
	} else {
		m, err = migrations.New(opts.driver, opts.databaseURL)
	}
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(m)
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/snehaltandel/process-map-agent/internal/migration"
)

// migrateFlags 允许绕过配置文件直接指定数据库
type migrateFlags struct {
	dbType string
	dbURL  string
}

func newMigrateCmd(global *globalFlags) *cobra.Command {
	mf := &migrateFlags{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands for the coach_sessions table",
		Long: `Applies the SQL migrations used by the "database" session store.

The database comes from the config file, or from --db-type and --db-url:
  cicoach migrate up --db-type sqlite --db-url "sqlite://./cicoach.db"`,
	}
	cmd.PersistentFlags().StringVar(&mf.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	cmd.PersistentFlags().StringVar(&mf.dbURL, "db-url", "", "Database connection URL")

	run := func(fn func(cmd *cobra.Command, cli *migration.CLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			migrator, err := createMigrator(global, mf)
			if err != nil {
				return fmt.Errorf("failed to create migrator: %w", err)
			}
			defer migrator.Close()

			cli := migration.NewCLI(migrator)
			cli.SetOutput(cmd.OutOrStdout())
			return fn(cmd, cli, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunUp(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunDown(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply (n > 0) or roll back (n < 0) n migrations",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				return cli.RunSteps(cmd.Context(), n)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the recorded migration version (clears the dirty flag)",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return cli.RunForce(cmd.Context(), v)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunStatus(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunVersion(cmd.Context())
			}),
		},
	)
	return cmd
}

// createMigrator 优先使用命令行指定的数据库，否则读取配置
func createMigrator(global *globalFlags, mf *migrateFlags) (*migration.DefaultMigrator, error) {
	if mf.dbType != "" && mf.dbURL != "" {
		return migration.NewMigratorFromURL(mf.dbType, mf.dbURL)
	}

	cfg, err := loadConfig(global)
	if err != nil {
		return nil, err
	}
	if mf.dbType != "" {
		cfg.Database.Driver = mf.dbType
	}
	return migration.NewMigratorFromConfig(cfg)
}

package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/porthorian/hashpolicy"
	"github.com/spf13/cobra"
)

const (
	defaultMigrationsTable = "hashpolicy.schema_migrations"
	defaultMigrationsPath  = "pkg/storage/postgres/migrations"

	envMigrateDatabaseURL     = "HASHPOLICY_MIGRATE_DATABASE_URL"
	envMigrateMigrationsTable = "HASHPOLICY_MIGRATE_MIGRATIONS_TABLE"
)

type migrateConfig struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

// migrationTable is a possibly schema-qualified table name.
type migrationTable struct {
	Schema string
	Table  string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{
		MigrationsTable: defaultMigrationsTable,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the postgres credential schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := migrateCmd.PersistentFlags()
	flags.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection URL. Falls back to "+envMigrateDatabaseURL+" then "+hashpolicy.EnvDatabaseURL+".")
	flags.StringVar(&cfg.MigrationsTable, "migrations-table", cfg.MigrationsTable, "Version table as table or schema.table. Falls back to "+envMigrateMigrationsTable+".")
	flags.StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files. Defaults to "+defaultMigrationsPath+".")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations, or at most steps of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, limited, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, sourceURL string) error {
				if limited {
					err = runner.Steps(steps)
				} else {
					err = runner.Up()
				}

				done, handled := migrationProgress(err, steps, limited)
				switch {
				case handled && done == 0:
					cmd.Println("No schema changes to apply.")
				case handled && done < steps:
					cmd.Printf("Applied %d of %d requested migration step(s) from %s; reached the latest version.\n", done, steps, sourceURL)
				case err != nil:
					return fmt.Errorf("apply migrations: %w", err)
				case limited:
					cmd.Printf("Applied %d migration step(s) from %s\n", steps, sourceURL)
				default:
					cmd.Printf("Applied all pending migrations from %s\n", sourceURL)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back steps migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, sourceURL string) error {
				err := runner.Steps(-steps)

				done, handled := migrationProgress(err, steps, true)
				switch {
				case handled && done == 0:
					cmd.Println("No schema changes to roll back.")
				case handled && done < steps:
					cmd.Printf("Rolled back %d of %d requested migration step(s) from %s; reached the first version.\n", done, steps, sourceURL)
				case err != nil:
					return fmt.Errorf("roll back migrations: %w", err)
				default:
					cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, sourceURL)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set the migration version (-1 clears it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force migration version: %w", err)
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	return migrateCmd
}

func withMigrationRunner(cmd *cobra.Command, cfg migrateConfig, fn func(runner *migrate.Migrate, sourceURL string) error) error {
	runner, sourceURL, err := newMigrationRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return fn(runner, sourceURL)
}

// migrationProgress reports how many of the requested steps ran when err only
// signals that the runner hit the first or last version.
func migrationProgress(err error, requested int, limited bool) (int, bool) {
	if err == nil {
		return 0, false
	}

	// Steps returns a bare os.ErrNotExist when already at the boundary.
	if errors.Is(err, migrate.ErrNoChange) || err == os.ErrNotExist {
		return 0, true
	}

	var short migrate.ErrShortLimit
	if limited && errors.As(err, &short) {
		done := requested - int(short.Short)
		if done < 0 {
			done = 0
		}
		return done, true
	}
	return 0, false
}

func resolveDatabaseURL(flagValue string) (string, error) {
	for _, candidate := range []string{flagValue, lookupEnv(envMigrateDatabaseURL), lookupEnv(hashpolicy.EnvDatabaseURL)} {
		if value := strings.TrimSpace(candidate); value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("missing database URL: set --database-url or %s", envMigrateDatabaseURL)
}

func resolveMigrationsTable(flagValue string) string {
	for _, candidate := range []string{flagValue, lookupEnv(envMigrateMigrationsTable)} {
		if value := strings.TrimSpace(candidate); value != "" {
			return value
		}
	}
	return defaultMigrationsTable
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

// parseMigrationTable accepts table, schema.table and their double-quoted
// forms. Dots inside quotes belong to the identifier.
func parseMigrationTable(value string) (migrationTable, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return migrationTable{}, nil
	}

	var parts []string
	var current strings.Builder
	quoted := false
	for _, r := range raw {
		switch {
		case r == '"':
			quoted = !quoted
		case r == '.' && !quoted:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	parts = append(parts, current.String())

	if quoted || len(parts) > 2 {
		return migrationTable{}, fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return migrationTable{}, fmt.Errorf("invalid migrations table %q", value)
		}
	}

	if len(parts) == 1 {
		return migrationTable{Table: parts[0]}, nil
	}
	return migrationTable{Schema: parts[0], Table: parts[1]}, nil
}

func newMigrationRunner(cfg migrateConfig) (*migrate.Migrate, string, error) {
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}

	table, err := parseMigrationTable(resolveMigrationsTable(cfg.MigrationsTable))
	if err != nil {
		return nil, "", err
	}
	if err := ensureSchema(databaseURL, table.Schema); err != nil {
		return nil, "", err
	}
	databaseURL, err = withMigrationsTable(databaseURL, table)
	if err != nil {
		return nil, "", err
	}

	sourceURL, err := resolveMigrationsSourceURL(cfg.MigrationsPath)
	if err != nil {
		return nil, "", err
	}

	runner, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, sourceURL, nil
}

// withMigrationsTable points golang-migrate at table unless the URL already
// names one.
func withMigrationsTable(databaseURL string, table migrationTable) (string, error) {
	if table.Table == "" {
		return databaseURL, nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse --database-url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if table.Schema == "" {
		query.Set("x-migrations-table", table.Table)
	} else {
		query.Set("x-migrations-table", pq.QuoteIdentifier(table.Schema)+"."+pq.QuoteIdentifier(table.Table))
		query.Set("x-migrations-table-quoted", "true")
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ensureSchema creates the version table's schema; golang-migrate only
// creates the table.
func ensureSchema(databaseURL string, schema string) error {
	if schema == "" {
		return nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse --database-url: %w", err)
	}

	db, err := sql.Open("postgres", migrate.FilterCustomQuery(parsed).String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("ensure migrations schema %q exists: %w", schema, err)
	}
	return nil
}

func resolveMigrationsSourceURL(migrationsPath string) (string, error) {
	pathOrURL := strings.TrimSpace(migrationsPath)
	if pathOrURL == "" {
		pathOrURL = defaultMigrationsPath
	}
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

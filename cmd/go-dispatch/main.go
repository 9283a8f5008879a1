// go-dispatch is the host process for the dispatch pipeline: HTTP ingress,
// the queue worker, schema migrations, and operational one-shots.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	dispatch "github.com/goliatone/go-dispatch"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/migrations"
)

type rootFlags struct {
	configPath string
	dbDriver   string
	dbDSN      string
}

func main() {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "go-dispatch",
		Short:         "Webhook ingestion, routing, and action dispatch service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a JSON configuration file")
	root.PersistentFlags().StringVar(&flags.dbDriver, "db-driver", "sqlite3", "database driver (sqlite3 or postgres)")
	root.PersistentFlags().StringVar(&flags.dbDSN, "db-dsn", "file:dispatch.db?_foreign_keys=on", "database connection string")

	root.AddCommand(
		newServeCommand(flags),
		newWorkCommand(flags),
		newEnqueueCommand(flags),
		newApplyConfigCommand(flags),
		newMigrateCommand(flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingress and the queue worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			service, client, err := buildService(flags, core.Config{})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			if path := service.Config().RoutingConfigPath; strings.TrimSpace(path) != "" {
				report, applyErr := service.ApplyRoutingConfigFile(ctx, path)
				if applyErr != nil {
					return applyErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "routing config applied: %d mappings, %d rules\n",
					report.MappingsApplied, report.RulesApplied)
			}

			ingressServer, err := service.NewIngressServer()
			if err != nil {
				return err
			}
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           ingressServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errs := make(chan error, 2)
			go func() {
				if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					errs <- serveErr
					return
				}
				errs <- nil
			}()
			go func() {
				workErr := service.RunWorker(ctx)
				if workErr != nil && !errors.Is(workErr, context.Canceled) {
					errs <- workErr
					return
				}
				errs <- nil
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", addr)

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errs:
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil && runErr == nil {
				runErr = shutdownErr
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	return cmd
}

func newWorkCommand(flags *rootFlags) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the queue worker without the HTTP ingress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime := core.Config{}
			runtime.Worker.RunOnce = once
			service, client, err := buildService(flags, runtime)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			workErr := service.RunWorker(ctx)
			if errors.Is(workErr, context.Canceled) {
				return nil
			}
			return workErr
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "make a single claim attempt and exit")
	return cmd
}

func newEnqueueCommand(flags *rootFlags) *cobra.Command {
	var source string
	var eventID string
	var payloadJSON string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue one event for processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload := map[string]any{}
			if strings.TrimSpace(payloadJSON) != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("parse payload: %w", err)
				}
			}

			service, client, err := buildService(flags, core.Config{})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			receipt, err := service.Enqueue(cmd.Context(), source, eventID, payload)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"row_id":    receipt.ID,
				"duplicate": receipt.AlreadyExists,
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "event source label")
	cmd.Flags().StringVar(&eventID, "event-id", "", "external event id used for deduplication")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "event payload as a JSON object")
	return cmd
}

func newApplyConfigCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply-config <routing.json>",
		Short: "Validate and apply a routing configuration document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, client, err := buildService(flags, core.Config{})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			report, err := service.ApplyRoutingConfigFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"mappings_applied": report.MappingsApplied,
				"rules_applied":    report.RulesApplied,
			})
		},
	}
	return cmd
}

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the dispatch schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openPersistence(flags)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			if err := client.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	return cmd
}

// fileConfigLoader feeds a JSON configuration file into the cfgx pipeline.
type fileConfigLoader struct {
	path string
}

func (l fileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if strings.TrimSpace(l.path) == "" {
		return map[string]any{}, nil
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	return out, nil
}

type persistenceConfig struct {
	driver string
	dsn    string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-dispatch" }

func openPersistence(flags *rootFlags) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(flags.dbDriver))

	var dialect schema.Dialect
	var migrationTarget string
	switch driver {
	case "sqlite3", "sqlite":
		driver = "sqlite3"
		dialect = sqlitedialect.New()
		migrationTarget = migrations.DialectSQLite
	case "postgres", "pg":
		driver = "postgres"
		dialect = pgdialect.New()
		migrationTarget = migrations.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported db driver %q", flags.dbDriver)
	}

	sqlDB, err := sql.Open(driver, flags.dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, dsn: flags.dbDSN}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	err = migrations.Register(context.Background(), func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrationTarget)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func buildService(flags *rootFlags, runtime core.Config) (*dispatch.Service, *persistence.Client, error) {
	client, err := openPersistence(flags)
	if err != nil {
		return nil, nil, err
	}

	service, err := dispatch.NewService(runtime,
		dispatch.WithPersistence(client),
		dispatch.WithConfigProvider(core.NewCfgxConfigProvider(fileConfigLoader{path: flags.configPath})),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return service, client, nil
}

func printJSON(cmd *cobra.Command, doc map[string]any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

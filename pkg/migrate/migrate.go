package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

const DefaultDir = "pkg/migrate/migrations"

// Options configures a Runner. The zero value targets Postgres.
type Options struct {
	Dialect goose.Dialect
	Logger  *logger.Logger
}

// Runner applies the settlement schema. On Postgres, concurrent runners
// (api and sweeper replicas booting together) serialize on a session
// advisory lock.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

// NewRunner builds a runner over the migrations in dir. It fails with
// goose.ErrNoMigrations when dir holds no .sql files.
func NewRunner(db *sql.DB, dir string, opts Options) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	dialect := opts.Dialect
	if dialect == "" {
		dialect = goose.DialectPostgres
	}

	providerOpts := []goose.ProviderOption{
		goose.WithDisableGlobalRegistry(true),
		goose.WithLogger(gooseLogger{logg: opts.Logger}),
	}
	if dialect == goose.DialectPostgres {
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return nil, fmt.Errorf("migration locker: %w", err)
		}
		providerOpts = append(providerOpts, goose.WithSessionLocker(locker))
	}

	provider, err := goose.NewProvider(dialect, db, fsys, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("goose provider for %q: %w", dir, err)
	}
	return &Runner{provider: provider, logg: opts.Logger}, nil
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) ([]*goose.MigrationResult, error) {
	results, err := r.provider.Up(ctx)
	r.report(ctx, results, err)
	if err != nil {
		return results, fmt.Errorf("goose up: %w", err)
	}
	return results, nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down(ctx context.Context) (*goose.MigrationResult, error) {
	result, err := r.provider.Down(ctx)
	if result != nil {
		r.report(ctx, []*goose.MigrationResult{result}, err)
	}
	if err != nil {
		return result, fmt.Errorf("goose down: %w", err)
	}
	return result, nil
}

// To migrates up or down until the database sits at targetVersion.
// A target of 0 rolls everything back.
func (r *Runner) To(ctx context.Context, targetVersion string) ([]*goose.MigrationResult, error) {
	if targetVersion == "" {
		return nil, fmt.Errorf("targetVersion is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil || target < 0 {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", targetVersion)
	}

	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err = r.provider.UpTo(ctx, target)
	default:
		results, err = r.provider.DownTo(ctx, target)
	}
	r.report(ctx, results, err)
	if err != nil {
		return results, fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return results, nil
}

// Status lists every known migration with its applied state, oldest first.
func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	return statuses, nil
}

// Version returns the highest applied version, 0 on a fresh database.
func (r *Runner) Version(ctx context.Context) (int64, error) {
	v, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get db version: %w", err)
	}
	return v, nil
}

func (r *Runner) report(ctx context.Context, results []*goose.MigrationResult, err error) {
	if r.logg == nil {
		return
	}
	var partial *goose.PartialError
	if errors.As(err, &partial) {
		results = partial.Applied
		if partial.Failed != nil && partial.Failed.Source != nil {
			failCtx := r.logg.WithFields(ctx, map[string]any{
				"version": partial.Failed.Source.Version,
				"file":    path.Base(partial.Failed.Source.Path),
			})
			r.logg.Error(failCtx, "migration failed", partial.Err)
		}
	}
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"file":        path.Base(res.Source.Path),
			"direction":   res.Direction,
			"empty":       res.Empty,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migration applied")
	}
}

// gooseLogger routes goose's own output into the service log.
type gooseLogger struct {
	logg *logger.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	if g.logg == nil {
		return
	}
	g.logg.Debug(context.Background(), fmt.Sprintf(format, v...))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	if g.logg == nil {
		return
	}
	g.logg.Error(context.Background(), "goose", fmt.Errorf(format, v...))
}

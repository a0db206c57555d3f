package migrate_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestOrdersMigrationGuardsInvariants(t *testing.T) {
	content := readMigration(t, "create_orders_and_invoices")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"version BIGINT NOT NULL DEFAULT 1",
		"CHECK (retry_count BETWEEN 0 AND 1)",
		"invoices_one_active_per_order",
		"payment_processing_id TEXT NULL UNIQUE",
		"DROP TABLE IF EXISTS orders",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPaymentsMigrationDedupesProcessorIDs(t *testing.T) {
	content := readMigration(t, "create_payments_and_outbox")
	checks := []string{
		"payment_transactions_processing_id_key",
		"item_id UUID NOT NULL UNIQUE",
		"dead_at TIMESTAMPTZ NULL",
		"DROP TABLE IF EXISTS payment_transactions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	embedded, err := migrate.Embedded.ReadDir(migrate.EmbeddedDir)
	if err != nil {
		t.Fatalf("read embedded: %v", err)
	}
	if len(embedded) != len(onDisk) {
		t.Fatalf("expected %d embedded migrations, got %d", len(onDisk), len(embedded))
	}
}

func TestValidateDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	if err := os.WriteFile(filepath.Join(dir, "orders.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatalf("expected filename error")
	}
}

func writeMigration(t *testing.T, dir, file, up, down string) {
	t.Helper()
	body := "-- +goose Up\n" + up + "\n\n-- +goose Down\n" + down + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "schema.db")), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestRunnerAppliesAndRollsBackByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "20260101000000_create_ledger.sql",
		"CREATE TABLE ledger (id INTEGER PRIMARY KEY, amount TEXT NOT NULL);",
		"DROP TABLE ledger;")
	writeMigration(t, dir, "20260101000100_index_ledger_amount.sql",
		"CREATE INDEX ledger_amount_idx ON ledger (amount);",
		"DROP INDEX ledger_amount_idx;")

	sqlDB := openSQLite(t)
	var buf bytes.Buffer
	runner, err := migrate.NewRunner(sqlDB, dir, migrate.Options{
		Dialect: goose.DialectSQLite3,
		Logger:  logger.New(logger.Options{ServiceName: "migrate", Output: &buf}),
	})
	require.NoError(t, err)
	ctx := context.Background()

	applied, err := runner.Up(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Contains(t, buf.String(), `"file":"20260101000100_index_ledger_amount.sql"`)

	version, err := runner.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20260101000100), version)

	statuses, err := runner.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, goose.StateApplied, st.State)
	}

	rolled, err := runner.To(ctx, "20260101000000")
	require.NoError(t, err)
	require.Len(t, rolled, 1)
	assert.Equal(t, int64(20260101000100), rolled[0].Source.Version)

	_, err = sqlDB.Exec(`INSERT INTO ledger (amount) VALUES ('10.00')`)
	require.NoError(t, err, "ledger table survives rolling back only the index")

	_, err = runner.To(ctx, "0")
	require.NoError(t, err)
	version, err = runner.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestRunnerStopsAtFailedMigration(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "20260101000000_create_ledger.sql",
		"CREATE TABLE ledger (id INTEGER PRIMARY KEY);",
		"DROP TABLE ledger;")
	writeMigration(t, dir, "20260101000100_broken.sql",
		"ALTER TABLE missing_table ADD COLUMN note TEXT;",
		"SELECT 1;")

	var buf bytes.Buffer
	runner, err := migrate.NewRunner(openSQLite(t), dir, migrate.Options{
		Dialect: goose.DialectSQLite3,
		Logger:  logger.New(logger.Options{ServiceName: "migrate", Output: &buf}),
	})
	require.NoError(t, err)

	applied, err := runner.Up(context.Background())
	require.Error(t, err)
	var partial *goose.PartialError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, int64(20260101000100), partial.Failed.Source.Version)
	assert.Empty(t, applied)

	version, err := runner.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20260101000000), version)
	assert.Contains(t, buf.String(), `"message":"migration failed"`)
}

func TestRunnerRejectsBadTargets(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "20260101000000_create_ledger.sql",
		"CREATE TABLE ledger (id INTEGER PRIMARY KEY);",
		"DROP TABLE ledger;")
	runner, err := migrate.NewRunner(openSQLite(t), dir, migrate.Options{Dialect: goose.DialectSQLite3})
	require.NoError(t, err)

	_, err = runner.To(context.Background(), "")
	assert.Error(t, err)
	_, err = runner.To(context.Background(), "yesterday")
	assert.Error(t, err)
	_, err = runner.To(context.Background(), "-1")
	assert.Error(t, err)
}

func TestNewRunnerRequiresMigrations(t *testing.T) {
	_, err := migrate.NewRunner(openSQLite(t), t.TempDir(), migrate.Options{Dialect: goose.DialectSQLite3})
	assert.ErrorIs(t, err, goose.ErrNoMigrations)

	_, err = migrate.NewRunner(nil, migrate.EmbeddedDir, migrate.Options{})
	assert.Error(t, err)
}

func TestEmbeddedSourceServesTheSchema(t *testing.T) {
	fsys, err := migrate.Source(migrate.EmbeddedDir)
	require.NoError(t, err)
	matches, err := fs.Glob(fsys, "*_create_orders_and_invoices.sql")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCreateSQLMigrationStaysAheadOfLatestVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "99990101000000_future.sql", "SELECT 1;", "SELECT 1;")

	created, err := migrate.CreateSQLMigration(dir, "Add Refund Ledger")
	require.NoError(t, err)
	assert.Equal(t, "99990101000001_add_refund_ledger.sql", filepath.Base(created))

	body, err := os.ReadFile(created)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "Name every constraint")
	require.NoError(t, migrate.ValidateDir(dir))
}

func TestCreateSQLMigrationRefusesReusedName(t *testing.T) {
	dir := t.TempDir()
	_, err := migrate.CreateSQLMigration(dir, "create_disputes")
	require.NoError(t, err)

	_, err = migrate.CreateSQLMigration(dir, "Create Disputes")
	assert.ErrorContains(t, err, "already exists")

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	assert.Error(t, err)
}

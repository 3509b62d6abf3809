package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	esim "github.com/goliatone/go-esim"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	found := map[string]bool{}
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		found[entry.Dialect] = true
	}
	if !found[DialectPostgres] || !found[DialectSQLite] {
		t.Fatalf("expected postgres and sqlite filesystems, got %v", found)
	}
}

func TestFilesystems_AcceptsFlatDirectory(t *testing.T) {
	flat := fstest.MapFS{
		"00001_x.up.sql":        {Data: []byte("SELECT 1;")},
		"sqlite/00001_x.up.sql": {Data: []byte("SELECT 1;")},
	}
	filesystems, err := Filesystems(flat)
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if filesystems[0].Path != "." || filesystems[1].Path != "sqlite" {
		t.Fatalf("unexpected paths %q %q", filesystems[0].Path, filesystems[1].Path)
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		calls = append(calls, dialect+":"+label)
		return nil
	}, WithValidationTargets(" SQLite "))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != "sqlite:go-esim" {
		t.Fatalf("expected one sqlite registration, got %v", calls)
	}
	if reg.SourceLabel != "go-esim" {
		t.Fatalf("unexpected source label %q", reg.SourceLabel)
	}
}

func TestRegister_WithFilesystemsOverridesEmbeddedTree(t *testing.T) {
	custom := fstest.MapFS{"00001_custom.up.sql": {Data: []byte("SELECT 1;")}}
	var registered fs.FS
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == DialectPostgres {
			registered = fsys
		}
		return nil
	},
		WithFilesystems(DialectFS{Dialect: " Postgres ", Path: "custom", FS: custom}),
		WithSourceLabel("esim-custom"),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := fs.Stat(registered, "00001_custom.up.sql"); err != nil {
		t.Fatalf("expected custom postgres filesystem to be registered: %v", err)
	}
}

func TestDialectForDriver(t *testing.T) {
	cases := map[string]string{
		"sqlite3":  DialectSQLite,
		"postgres": DialectPostgres,
		" PGX ":    DialectPostgres,
	}
	for driver, want := range cases {
		got, err := DialectForDriver(driver)
		if err != nil || got != want {
			t.Fatalf("driver %q: expected %s, got %q (%v)", driver, want, got, err)
		}
	}
	if _, err := DialectForDriver("mysql"); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function to fail")
	}
}

func TestMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := esim.GetMigrationsFS()
	for _, dir := range []string{"data/sql/migrations", "data/sql/migrations/sqlite"} {
		ups, err := fs.Glob(root, dir+"/*.up.sql")
		if err != nil {
			t.Fatalf("glob %s: %v", dir, err)
		}
		if len(ups) != 3 {
			t.Fatalf("expected 3 up migrations in %s, got %d", dir, len(ups))
		}
		for _, up := range ups {
			down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
			content, err := fs.ReadFile(root, down)
			if err != nil {
				t.Fatalf("missing down migration for %s: %v", up, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				t.Fatalf("expected %s to have SQL content", down)
			}
		}
	}
}

func TestSQLiteMigrations_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-esim-roundtrip?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	sqliteMigrations, err := fs.Sub(esim.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ups := []string{
		"00001_esim_orders.up.sql",
		"00002_esim_webhook_deliveries_outbox.up.sql",
		"00003_esim_rate_limit_state.up.sql",
	}
	for _, migration := range ups {
		if err := execSQLMigration(ctx, db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply %s: %v", migration, err)
		}
	}

	for _, table := range []string{
		"esim_orders",
		"esim_provider_configs",
		"esim_webhook_deliveries",
		"esim_lifecycle_outbox",
		"esim_rate_limit_state",
	} {
		if count := tableCount(t, db, table); count != 1 {
			t.Fatalf("expected table %s after up migrations", table)
		}
	}

	insertDelivery := `INSERT INTO esim_webhook_deliveries (id, claim_id, processor, delivery_id, status) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertDelivery, "d1", "c1", "stripe", "evt_1", "processing"); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertDelivery, "d2", "c2", "stripe", "evt_1", "processing"); err == nil {
		t.Fatalf("expected (processor, delivery_id) uniqueness")
	}
	if _, err := db.ExecContext(ctx, insertDelivery, "d3", "c3", "coinbase", "evt_1", "processing"); err != nil {
		t.Fatalf("expected same event id from another processor to be accepted: %v", err)
	}

	insertOrder := `INSERT INTO esim_orders (id, order_id, fulfillment_status) VALUES (?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertOrder, "o1", "ord_1", "shipped"); err == nil {
		t.Fatalf("expected unknown fulfillment status to be rejected")
	}

	downs := []string{
		"00003_esim_rate_limit_state.down.sql",
		"00002_esim_webhook_deliveries_outbox.down.sql",
		"00001_esim_orders.down.sql",
	}
	for _, migration := range downs {
		if err := execSQLMigration(ctx, db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply %s: %v", migration, err)
		}
	}
	if count := tableCount(t, db, "esim_orders"); count != 0 {
		t.Fatalf("expected esim_orders to be dropped after rollback")
	}
}

func tableCount(t *testing.T, db *sql.DB, name string) int {
	t.Helper()
	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		name,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master for %s: %v", name, err)
	}
	return count
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}

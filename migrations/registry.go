package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	esim "github.com/goliatone/go-esim"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// DefaultSourceLabel names esim migrations in the persistence client.
	DefaultSourceLabel = "go-esim"

	embeddedRoot = "data/sql/migrations"
)

// dialectDirs maps each dialect to its directory below the migration root.
var dialectDirs = []struct {
	dialect string
	dir     string
}{
	{DialectPostgres, "."},
	{DialectSQLite, "sqlite"},
}

// DialectFS is the migration directory for one SQL dialect.
type DialectFS struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Registration records what Register handed to the persistence layer.
type Registration struct {
	SourceLabel string
	Dialects    []string
	Filesystems []DialectFS
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(dialects ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(dialects); len(normalized) > 0 {
			r.Dialects = normalized
		}
	}
}

// WithFilesystems replaces the embedded tree.
func WithFilesystems(filesystems ...DialectFS) Option {
	return func(r *Registration) {
		kept := make([]DialectFS, 0, len(filesystems))
		for _, item := range filesystems {
			item.Dialect = strings.ToLower(strings.TrimSpace(item.Dialect))
			if item.Dialect != "" && item.FS != nil {
				kept = append(kept, item)
			}
		}
		if len(kept) > 0 {
			r.Filesystems = kept
		}
	}
}

// DialectForDriver maps a database/sql driver name to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "postgres", "pgx", "pg":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("migrations: no dialect for driver %q", driver)
}

// Filesystems resolves one DialectFS per dialect from source, or from the
// embedded tree when source is omitted. source may be the repository root
// (holding data/sql/migrations) or the migration directory itself.
func Filesystems(source ...fs.FS) ([]DialectFS, error) {
	root := esim.GetMigrationsFS()
	if len(source) > 0 && source[0] != nil {
		root = source[0]
	}
	base, basePath, err := migrationsRoot(root)
	if err != nil {
		return nil, err
	}

	out := make([]DialectFS, 0, len(dialectDirs))
	for _, entry := range dialectDirs {
		sub := base
		if entry.dir != "." {
			if sub, err = fs.Sub(base, entry.dir); err != nil {
				return nil, fmt.Errorf("migrations: resolve %s filesystem: %w", entry.dialect, err)
			}
		}
		ups, err := fs.Glob(sub, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", entry.dialect, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s directory %q has no *.up.sql files", entry.dialect, path.Join(basePath, entry.dir))
		}
		out = append(out, DialectFS{
			Dialect: entry.dialect,
			Path:    path.Join(basePath, entry.dir),
			FS:      sub,
		})
	}
	return out, nil
}

// Register passes each selected dialect directory to registerFn, usually a
// go-persistence-bun client's RegisterSQLMigrations.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel: DefaultSourceLabel,
		Dialects:    []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	for _, item := range reg.Filesystems {
		if !slices.Contains(reg.Dialects, item.Dialect) {
			continue
		}
		if err := registerFn(ctx, item.Dialect, reg.SourceLabel, item.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", item.Dialect, item.Path, err)
		}
	}
	return reg, nil
}

func migrationsRoot(root fs.FS) (fs.FS, string, error) {
	if info, err := fs.Stat(root, embeddedRoot); err == nil && info.IsDir() {
		sub, err := fs.Sub(root, embeddedRoot)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: resolve %s: %w", embeddedRoot, err)
		}
		return sub, embeddedRoot, nil
	}
	if matches, err := fs.Glob(root, "*.sql"); err == nil && len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: no %s directory or top-level *.sql files found", embeddedRoot)
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized != "" && !slices.Contains(out, normalized) {
			out = append(out, normalized)
		}
	}
	return out
}

// Package migrations exposes the embedded SQL schema files, one filesystem
// per shipped dialect, for registration with a persistence client.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	dispatch "github.com/goliatone/go-dispatch"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// FilesystemSpec pairs a dialect with its migration filesystem.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc receives one dialect's migration filesystem.
type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

// Filesystems resolves the embedded per-dialect migration trees and checks
// that each one actually ships *.up.sql files. Postgres files live at the
// tree root, the sqlite translations in a subtree.
func Filesystems() ([]FilesystemSpec, error) {
	const basePath = "data/sql/migrations"
	base, err := fs.Sub(dispatch.GetMigrationsFS(), basePath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", basePath, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite subtree: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: basePath + "/sqlite", FS: sqliteFS},
	}
	for _, spec := range filesystems {
		matches, globErr := fs.Glob(spec.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", spec.Dialect, spec.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", spec.Dialect, spec.Path)
		}
	}
	return filesystems, nil
}

// Register hands each requested dialect's filesystem to registerFn. With no
// dialects given, every shipped dialect is registered.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	wanted := make([]string, 0, len(dialects))
	for _, dialect := range dialects {
		trimmed := strings.ToLower(strings.TrimSpace(dialect))
		if trimmed != "" && !slices.Contains(wanted, trimmed) {
			wanted = append(wanted, trimmed)
		}
	}

	filesystems, err := Filesystems()
	if err != nil {
		return err
	}
	for _, spec := range filesystems {
		if len(wanted) > 0 && !slices.Contains(wanted, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, spec.FS); err != nil {
			return fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return nil
}

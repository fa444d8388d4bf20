// Package migrations embeds the SQL schema and applies it in file order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

// UpFiles lists the embedded up migrations in the order they are applied.
func UpFiles() ([]string, error) {
	names, err := fs.Glob(files, "*_*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every up migration against pool. All statements are idempotent,
// so Apply can run on every start.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := UpFiles()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("no migration files found")
	}
	for _, name := range names {
		payload, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(payload)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

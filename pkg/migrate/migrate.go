// Package migrate applies the postgres schema with goose. The SQL files are
// embedded so every binary migrates the same schema regardless of working dir.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the embedded migrations, or dir on disk when dir is set.
func Source(dir string) (fs.FS, error) {
	if strings.TrimSpace(dir) != "" {
		return os.DirFS(dir), nil
	}
	return fs.Sub(embedded, "migrations")
}

// Runner drives one goose provider bound to a database and migration set.
type Runner struct {
	provider *goose.Provider
}

func NewRunner(db *sql.DB, fsys fs.FS) (*Runner, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	if err := ValidateFS(fsys); err != nil {
		return nil, err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("migrate: goose provider: %w", err)
	}
	return &Runner{provider: p}, nil
}

// Up applies every pending migration and returns the versions applied.
func (r *Runner) Up(ctx context.Context) ([]int64, error) {
	res, err := r.provider.Up(ctx)
	return versions(res), err
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) ([]int64, error) {
	res, err := r.provider.Down(ctx)
	if res == nil {
		return nil, err
	}
	return versions([]*goose.MigrationResult{res}), err
}

// To moves the schema up or down until target is the current version.
func (r *Runner) To(ctx context.Context, target int64) ([]int64, error) {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: current version: %w", err)
	}
	var res []*goose.MigrationResult
	switch {
	case target > current:
		res, err = r.provider.UpTo(ctx, target)
	case target < current:
		res, err = r.provider.DownTo(ctx, target)
	}
	return versions(res), err
}

// Status reports every known migration and whether it is applied.
func (r *Runner) Status(ctx context.Context) ([]StatusLine, error) {
	rows, err := r.provider.Status(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StatusLine, 0, len(rows))
	for _, row := range rows {
		line := StatusLine{Version: row.Source.Version, Path: row.Source.Path, Applied: row.State == goose.StateApplied}
		if line.Applied {
			line.AppliedAt = row.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		out = append(out, line)
	}
	return out, nil
}

type StatusLine struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt string
}

func versions(res []*goose.MigrationResult) []int64 {
	out := make([]int64, 0, len(res))
	for _, m := range res {
		if m != nil && m.Source != nil {
			out = append(out, m.Source.Version)
		}
	}
	return out
}

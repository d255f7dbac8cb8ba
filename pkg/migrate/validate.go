package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
)

var fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateFS checks naming, version uniqueness and that each file declares
// both directions with a non-empty Up section.
func ValidateFS(fsys fs.FS) error {
	if fsys == nil {
		return fmt.Errorf("migrate: no migration source")
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("migrate: list migrations: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("migrate: no migrations found")
	}

	byVersion := make(map[int64]string, len(names))
	for _, name := range names {
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("migrate: bad file name %q, want YYYYMMDDHHMMSS_snake_name.sql", name)
		}
		version, _ := strconv.ParseInt(m[1], 10, 64)
		if other, dup := byVersion[version]; dup {
			return fmt.Errorf("migrate: version %d used by both %q and %q", version, other, name)
		}
		byVersion[version] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("migrate: read %q: %w", name, err)
		}
		if err := checkSections(string(body)); err != nil {
			return fmt.Errorf("migrate: %s: %w", name, err)
		}
	}
	return nil
}

func checkSections(sql string) error {
	up := strings.Index(sql, "-- +goose Up")
	down := strings.Index(sql, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf(`missing "-- +goose Up"`)
	case down < 0:
		return fmt.Errorf(`missing "-- +goose Down"`)
	case down < up:
		return fmt.Errorf("down section precedes up section")
	}
	for _, line := range strings.Split(sql[up+len("-- +goose Up"):down], "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return nil
		}
	}
	return fmt.Errorf("up section has no statements")
}

package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
)

const versionLayout = "20060102150405"

var (
	migrationNameRe = regexp.MustCompile(`[^a-z0-9]+`)

	clock = time.Now
)

// migrationTemplate is the skeleton of a new migration. The state store runs
// on postgres and sqlite3, so both dialects must accept its statements.
const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s: statements must run on postgres and sqlite3.
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes <dir>/<version>_<name>.sql. The version is the
// current UTC timestamp, bumped past the newest migration already in dir so
// goose never sees a new file as out of order. A name already used in dir is
// rejected.
func CreateSQLMigration(dir string, name string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := migrationSlug(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	latest, err := latestVersion(dir, slug)
	if err != nil {
		return "", err
	}
	version, err := strconv.ParseInt(clock().UTC().Format(versionLayout), 10, 64)
	if err != nil {
		return "", err
	}
	if version <= latest {
		next, err := time.Parse(versionLayout, strconv.FormatInt(latest, 10))
		if err != nil {
			return "", fmt.Errorf("latest migration version %d: %w", latest, err)
		}
		version, _ = strconv.ParseInt(next.Add(time.Second).Format(versionLayout), 10, 64)
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%d_%s.sql", version, slug))
	file, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", fullpath, err)
	}
	defer file.Close()
	if _, err := fmt.Fprintf(file, migrationTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

func migrationSlug(name string) string {
	return strings.Trim(migrationNameRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// latestVersion returns the highest goose version in dir and fails when a
// migration named slug already exists.
func latestVersion(dir, slug string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir %q: %w", dir, err)
	}
	var latest int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		version, err := goose.NumericComponent(name)
		if err != nil {
			continue
		}
		if strings.TrimSuffix(strings.TrimPrefix(name, strconv.FormatInt(version, 10)+"_"), ".sql") == slug {
			return 0, fmt.Errorf("migration %q already exists as %s", slug, name)
		}
		if version > latest {
			latest = version
		}
	}
	return latest, nil
}

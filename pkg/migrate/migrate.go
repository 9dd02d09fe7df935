package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are written by the create command.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return sub
}

// SourceFS picks the embedded migrations when dir is empty, otherwise the
// directory on disk.
func SourceFS(dir string) fs.FS {
	if dir == "" {
		return Migrations()
	}
	return os.DirFS(dir)
}

// Migrator runs goose migrations against postgres.
type Migrator struct {
	provider *goose.Provider
}

func NewMigrator(db *sql.DB, fsys fs.FS) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

// Report is one applied or rolled back migration.
type Report struct {
	Version   int64
	Path      string
	Direction string
	Empty     bool
}

// Run executes command: up, down, redo or status.
func (m *Migrator) Run(ctx context.Context, command string) ([]Report, error) {
	switch command {
	case "up":
		results, err := m.provider.Up(ctx)
		return reports(results...), wrap("up", err)
	case "down":
		result, err := m.provider.Down(ctx)
		return reports(result), wrap("down", err)
	case "redo":
		down, err := m.provider.Down(ctx)
		if err != nil {
			return reports(down), wrap("redo down", err)
		}
		up, err := m.provider.UpByOne(ctx)
		return reports(down, up), wrap("redo up", err)
	case "status":
		statuses, err := m.provider.Status(ctx)
		if err != nil {
			return nil, wrap("status", err)
		}
		out := make([]Report, 0, len(statuses))
		for _, st := range statuses {
			out = append(out, Report{Version: st.Source.Version, Path: st.Source.Path, Direction: string(st.State)})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown migrate command %q", command)
	}
}

// MigrateTo moves the schema up or down to the requested version.
func (m *Migrator) MigrateTo(ctx context.Context, targetVersion string) ([]Report, error) {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err := m.provider.UpTo(ctx, target)
		return reports(results...), wrap(fmt.Sprintf("up-to %d", target), err)
	default:
		results, err := m.provider.DownTo(ctx, target)
		return reports(results...), wrap(fmt.Sprintf("down-to %d", target), err)
	}
}

func reports(results ...*goose.MigrationResult) []Report {
	out := make([]Report, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Report{
			Version:   r.Source.Version,
			Path:      r.Source.Path,
			Direction: r.Direction,
			Empty:     r.Empty,
		})
	}
	return out
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}

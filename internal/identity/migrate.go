package identity

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
)

// Formato de archivo: {version}_{name}.sql (ej: 0001_users.sql)
var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// Migration representa una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationTarget es la base sobre la que corre el Migrator. PGRepository y
// SQLiteRepository lo implementan.
type MigrationTarget interface {
	EnsureMigrationsTable(ctx context.Context) error
	AppliedVersions(ctx context.Context) (map[int]bool, error)
	// ApplyMigration ejecuta el SQL y registra la versión en una transacción.
	ApplyMigration(ctx context.Context, m Migration) error
}

// Migrator aplica migraciones embebidas en orden de versión.
type Migrator struct {
	fsys fs.FS
	dir  string
}

// NewMigrator crea un Migrator sobre dir dentro de fsys.
func NewMigrator(fsys fs.FS, dir string) *Migrator {
	return &Migrator{fsys: fsys, dir: dir}
}

// Parse lee y ordena las migraciones.
func (m *Migrator) Parse() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read dir: %w", err)
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		version, _ := strconv.Atoi(match[1])
		b, err := fs.ReadFile(m.fsys, path.Join(m.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: match[2], SQL: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Run aplica las pendientes y devuelve las versiones aplicadas.
func (m *Migrator) Run(ctx context.Context, target MigrationTarget) ([]int, error) {
	migs, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := target.EnsureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("migrate: ensure table: %w", err)
	}
	done, err := target.AppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: applied versions: %w", err)
	}
	var applied []int
	for _, mig := range migs {
		if done[mig.Version] {
			continue
		}
		if err := target.ApplyMigration(ctx, mig); err != nil {
			return applied, fmt.Errorf("migrate: %04d_%s: %w", mig.Version, mig.Name, err)
		}
		applied = append(applied, mig.Version)
	}
	return applied, nil
}

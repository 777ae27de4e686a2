package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dropDatabas3/beout-auth/migrations"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteRepository guarda usuarios en un archivo SQLite (o en memoria para
// tests). Un solo archivo alcanza para despliegues de un nodo.
type SQLiteRepository struct {
	db *sqlx.DB
}

var (
	_ Repository      = (*SQLiteRepository)(nil)
	_ MigrationTarget = (*SQLiteRepository)(nil)
)

// OpenSQLite abre path (":memory:" para una base efímera) y aplica migraciones.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	var dsn string
	memory := path == ":memory:"
	if memory {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
		dsn = "file:" + filepath.Clean(path) +
			"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if memory {
		// Cada conexión a :memory: es una base distinta.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if _, err := NewMigrator(migrations.SQLiteFS, migrations.SQLiteDir).Run(ctx, repo); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*User, error) {
	var row sqliteUserRow
	err := r.db.GetContext(ctx, &row, sqliteSelectUser+` WHERE u.id = ?`, id)
	return row.toUser(err)
}

// CountByEmail existe para verificar la invariante de unicidad en tests y en
// el comando de diagnóstico.
func (r *SQLiteRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE email = ?`, NormalizeEmail(email))
	return n, err
}

// --- migraciones ---

func (r *SQLiteRepository) EnsureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`)
	return err
}

func (r *SQLiteRepository) AppliedVersions(ctx context.Context) (map[int]bool, error) {
	var versions []int
	if err := r.db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`); err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(versions))
	for _, v := range versions {
		out[v] = true
	}
	return out, nil
}

func (r *SQLiteRepository) ApplyMigration(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// --- transacción ---

const sqliteSelectUser = `SELECT u.id, u.email,
	COALESCE(u.provider, '') AS provider, COALESCE(u.provider_id, '') AS provider_id,
	u.role, u.is_verified, u.created_at, COALESCE(u.last_login, 0) AS last_login,
	COALESCE(p.first_name, '') AS first_name, COALESCE(p.last_name, '') AS last_name
FROM users u LEFT JOIN user_profiles p ON p.user_id = u.id`

type sqliteUserRow struct {
	ID         string `db:"id"`
	Email      string `db:"email"`
	Provider   string `db:"provider"`
	ProviderID string `db:"provider_id"`
	Role       string `db:"role"`
	IsVerified bool   `db:"is_verified"`
	CreatedAt  int64  `db:"created_at"`
	LastLogin  int64  `db:"last_login"`
	FirstName  string `db:"first_name"`
	LastName   string `db:"last_name"`
}

func (row *sqliteUserRow) toUser(err error) (*User, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: select user: %w", err)
	}
	u := &User{
		ID:         row.ID,
		Email:      row.Email,
		Provider:   row.Provider,
		ProviderID: row.ProviderID,
		Role:       row.Role,
		IsVerified: row.IsVerified,
		CreatedAt:  fromMillis(row.CreatedAt),
		FirstName:  row.FirstName,
		LastName:   row.LastName,
	}
	if row.LastLogin > 0 {
		u.LastLogin = fromMillis(row.LastLogin)
	}
	return u, nil
}

type sqliteTx struct{ tx *sqlx.Tx }

func (t *sqliteTx) FindByProvider(ctx context.Context, provider, providerID string) (*User, error) {
	var row sqliteUserRow
	err := t.tx.GetContext(ctx, &row, sqliteSelectUser+` WHERE u.provider = ? AND u.provider_id = ?`, provider, providerID)
	return row.toUser(err)
}

func (t *sqliteTx) FindByEmail(ctx context.Context, email string) (*User, error) {
	var row sqliteUserRow
	err := t.tx.GetContext(ctx, &row, sqliteSelectUser+` WHERE u.email = ?`, email)
	return row.toUser(err)
}

func (t *sqliteTx) Relink(ctx context.Context, userID, provider, providerID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE users SET provider = ?, provider_id = ?, last_login = ? WHERE id = ?`,
		provider, providerID, toMillis(at), userID)
	return mapSQLiteErr("relink", err)
}

func (t *sqliteTx) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, toMillis(at), userID)
	return mapSQLiteErr("touch last_login", err)
}

func (t *sqliteTx) CreateUser(ctx context.Context, u *User) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (id, email, role, is_verified, provider, provider_id, created_at, last_login)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Role, u.IsVerified, u.Provider, u.ProviderID, toMillis(u.CreatedAt), toMillis(u.LastLogin))
	return mapSQLiteErr("insert user", err)
}

func (t *sqliteTx) CreateProfile(ctx context.Context, p Profile) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, first_name, last_name, avatar_url) VALUES (?, ?, ?, NULLIF(?, ''))`,
		p.UserID, p.FirstName, p.LastName, p.AvatarURL)
	return mapSQLiteErr("insert profile", err)
}

func mapSQLiteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		if strings.Contains(se.Error(), "users.email") {
			return ErrDuplicateEmail
		}
		return ErrDuplicateProvider
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

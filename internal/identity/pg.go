package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/beout-auth/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implementa Repository sobre pgxpool.
type PGRepository struct {
	pool *pgxpool.Pool
}

var (
	_ Repository      = (*PGRepository)(nil)
	_ MigrationTarget = (*PGRepository)(nil)
)

// OpenPG conecta, verifica la conexión y aplica las migraciones si migrate es true.
func OpenPG(ctx context.Context, dsn string, migrate bool) (*PGRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	repo := NewPG(pool)
	if migrate {
		if _, err := NewMigrator(migrations.PostgresFS, migrations.PostgresDir).Run(ctx, repo); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return repo, nil
}

// NewPG envuelve un pool existente.
func NewPG(pool *pgxpool.Pool) *PGRepository { return &PGRepository{pool: pool} }

// Pool expone el pool (métricas / readiness).
func (r *PGRepository) Pool() *pgxpool.Pool { return r.pool }

func (r *PGRepository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *PGRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PGRepository) WithinTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

func (r *PGRepository) GetUser(ctx context.Context, id string) (*User, error) {
	// id viene del JWT; uno que no es UUID no existe.
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanPGUser(r.pool.QueryRow(ctx, pgSelectUser+` WHERE u.id = $1`, id))
}

// --- migraciones ---

func (r *PGRepository) EnsureMigrationsTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

func (r *PGRepository) AppliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(versions))
	for _, v := range versions {
		out[int(v)] = true
	}
	return out, nil
}

func (r *PGRepository) ApplyMigration(ctx context.Context, m Migration) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	// Sin argumentos pgx usa el protocolo simple: admite varios statements.
	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- transacción ---

const pgSelectUser = `SELECT u.id::text, u.email, COALESCE(u.provider, ''), COALESCE(u.provider_id, ''),
	u.role, u.is_verified, u.created_at, u.last_login,
	COALESCE(p.first_name, ''), COALESCE(p.last_name, '')
FROM users u LEFT JOIN user_profiles p ON p.user_id = u.id`

func scanPGUser(row pgx.Row) (*User, error) {
	var (
		u         User
		lastLogin *time.Time
	)
	err := row.Scan(&u.ID, &u.Email, &u.Provider, &u.ProviderID, &u.Role, &u.IsVerified,
		&u.CreatedAt, &lastLogin, &u.FirstName, &u.LastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: select user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if lastLogin != nil {
		u.LastLogin = lastLogin.UTC()
	}
	return &u, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) FindByProvider(ctx context.Context, provider, providerID string) (*User, error) {
	return scanPGUser(t.tx.QueryRow(ctx, pgSelectUser+` WHERE u.provider = $1 AND u.provider_id = $2`, provider, providerID))
}

func (t *pgTx) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanPGUser(t.tx.QueryRow(ctx, pgSelectUser+` WHERE u.email = $1`, email))
}

func (t *pgTx) Relink(ctx context.Context, userID, provider, providerID string, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE users SET provider = $1, provider_id = $2, last_login = $3 WHERE id = $4`,
		provider, providerID, at, userID)
	return mapPGErr("relink", err)
}

func (t *pgTx) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, userID)
	return mapPGErr("touch last_login", err)
}

func (t *pgTx) CreateUser(ctx context.Context, u *User) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO users (id, email, role, is_verified, provider, provider_id, created_at, last_login)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Role, u.IsVerified, u.Provider, u.ProviderID, u.CreatedAt, u.LastLogin)
	return mapPGErr("insert user", err)
}

func (t *pgTx) CreateProfile(ctx context.Context, p Profile) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_profiles (user_id, first_name, last_name, avatar_url) VALUES ($1, $2, $3, NULLIF($4, ''))`,
		p.UserID, p.FirstName, p.LastName, p.AvatarURL)
	return mapPGErr("insert profile", err)
}

func mapPGErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		if pgErr.ConstraintName == "users_email_key" {
			return ErrDuplicateEmail
		}
		return ErrDuplicateProvider
	}
	return fmt.Errorf("pg: %s: %w", op, err)
}

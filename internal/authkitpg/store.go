// Package authkitpg backs the revocation store with PostgreSQL over the pgx
// driver. Deployments with several service replicas point them all at one
// database so a credential revoked on any replica is dead on every replica.
package authkitpg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/xscard/sessiond/internal/authkit"
	"github.com/xscard/sessiond/internal/authkitpg/migrations"
)

// Store implements authkit.RevocationStore on a PostgreSQL connection.
type Store struct {
	db    *sql.DB
	clock authkit.Clock
}

// NewStore binds a store to an existing connection. The caller owns the
// connection lifecycle.
func NewStore(db *sql.DB, clock authkit.Clock) *Store {
	if clock == nil {
		clock = authkit.NewSystemClock()
	}
	return &Store{db: db, clock: clock}
}

// Open connects to PostgreSQL, verifies the connection, and runs migrations.
func Open(ctx context.Context, dsn string, clock authkit.Clock) (*Store, error) {
	db, openErr := sql.Open("pgx", dsn)
	if openErr != nil {
		return nil, fmt.Errorf("revocation_store.pg.open: %w", openErr)
	}
	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("revocation_store.pg.ping: %w", pingErr)
	}
	store := NewStore(db, clock)
	if migrateErr := store.RunMigrations(ctx); migrateErr != nil {
		_ = db.Close()
		return nil, migrateErr
	}
	return store, nil
}

// gooseUpContext is a seam for testing RunMigrations.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func (store *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if dialectErr := goose.SetDialect("pgx"); dialectErr != nil {
		return fmt.Errorf("revocation_store.pg.dialect: %w", dialectErr)
	}
	if migrateErr := gooseUpContext(ctx, store.db, "."); migrateErr != nil {
		return fmt.Errorf("revocation_store.pg.migrate: %w", migrateErr)
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *Store) Close() error {
	return store.db.Close()
}

// Insert records a credential as revoked. Re-inserting is a no-op so logout
// stays idempotent.
func (store *Store) Insert(ctx context.Context, credential string, expiresUnix int64, reason string) error {
	if strings.TrimSpace(credential) == "" {
		return fmt.Errorf("revocation_store.insert.pg: %w", authkit.ErrRevocationEmptyCredential)
	}
	query := `
		INSERT INTO revoked_credentials (credential_hash, expires_unix, reason, revoked_at_unix)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (credential_hash) DO NOTHING
	`
	_, execErr := store.db.ExecContext(ctx, query,
		authkit.CredentialDigest(credential), expiresUnix, reason, store.clock.Now().UTC().Unix())
	if execErr != nil {
		return fmt.Errorf("revocation_store.insert.pg: %w", execErr)
	}
	return nil
}

// Contains reports whether the credential has a revocation entry.
func (store *Store) Contains(ctx context.Context, credential string) (bool, error) {
	if strings.TrimSpace(credential) == "" {
		return false, fmt.Errorf("revocation_store.contains.pg: %w", authkit.ErrRevocationEmptyCredential)
	}
	query := `
		SELECT EXISTS (SELECT 1 FROM revoked_credentials WHERE credential_hash = $1)
	`
	var revoked bool
	if scanErr := store.db.QueryRowContext(ctx, query, authkit.CredentialDigest(credential)).Scan(&revoked); scanErr != nil {
		return false, fmt.Errorf("revocation_store.contains.pg: %w", scanErr)
	}
	return revoked, nil
}

// PruneExpired removes entries whose credential expiry passed before
// cutoffUnix. Entries recorded without an expiry are never pruned.
func (store *Store) PruneExpired(ctx context.Context, cutoffUnix int64) (int64, error) {
	query := `
		DELETE FROM revoked_credentials
		WHERE expires_unix <> 0 AND expires_unix < $1
	`
	result, execErr := store.db.ExecContext(ctx, query, cutoffUnix)
	if execErr != nil {
		return 0, fmt.Errorf("revocation_store.prune.pg: %w", execErr)
	}
	pruned, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return 0, fmt.Errorf("revocation_store.prune.pg: %w", affectedErr)
	}
	return pruned, nil
}

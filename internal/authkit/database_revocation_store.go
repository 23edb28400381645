package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	errEmptyDatabaseURL    = errors.New("revocation_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("revocation_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("revocation_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("revocation_store.unsupported_no_scheme")
)

// DatabaseRevocationStore persists revocation entries using GORM.
type DatabaseRevocationStore struct {
	db          *gorm.DB
	driverLabel string
	now         func() int64
}

// Driver exposes the selected database driver label.
func (store *DatabaseRevocationStore) Driver() string {
	return store.driverLabel
}

type revocationRecord struct {
	CredentialHash string `gorm:"column:credential_hash;primaryKey"`
	ExpiresUnix    int64  `gorm:"column:expires_unix;index;not null"`
	Reason         string `gorm:"column:reason;not null;default:''"`
	RevokedAtUnix  int64  `gorm:"column:revoked_at_unix;not null"`
}

func (revocationRecord) TableName() string {
	return "revoked_credentials"
}

// NewDatabaseRevocationStore constructs a GORM-backed store.
func NewDatabaseRevocationStore(ctx context.Context, databaseURL string, clock Clock) (*DatabaseRevocationStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("revocation_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("revocation_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&revocationRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("revocation_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &DatabaseRevocationStore{
		db:          gormDB,
		driverLabel: driverLabel,
		now:         func() int64 { return clock.Now().Unix() },
	}, nil
}

// Insert records a credential as revoked. Conflicting inserts are ignored so
// repeated logouts of the same credential stay idempotent.
func (store *DatabaseRevocationStore) Insert(ctx context.Context, credential string, expiresUnix int64, reason string) error {
	if strings.TrimSpace(credential) == "" {
		return fmt.Errorf("revocation_store.insert.%s: %w", store.driverLabel, ErrRevocationEmptyCredential)
	}
	record := revocationRecord{
		CredentialHash: CredentialDigest(credential),
		ExpiresUnix:    expiresUnix,
		Reason:         reason,
		RevokedAtUnix:  store.now(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("revocation_store.insert.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Contains reports whether the credential has a revocation entry.
func (store *DatabaseRevocationStore) Contains(ctx context.Context, credential string) (bool, error) {
	if strings.TrimSpace(credential) == "" {
		return false, fmt.Errorf("revocation_store.contains.%s: %w", store.driverLabel, ErrRevocationEmptyCredential)
	}
	var record revocationRecord
	err := store.db.WithContext(ctx).
		Where("credential_hash = ?", CredentialDigest(credential)).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("revocation_store.contains.%s: %w", store.driverLabel, err)
	}
	return true, nil
}

// PruneExpired removes entries whose credential expiry passed before cutoffUnix.
func (store *DatabaseRevocationStore) PruneExpired(ctx context.Context, cutoffUnix int64) (int64, error) {
	result := store.db.WithContext(ctx).
		Where("expires_unix <> 0 AND expires_unix < ?", cutoffUnix).
		Delete(&revocationRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("revocation_store.prune.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("revocation_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("revocation_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("revocation_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("revocation_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}

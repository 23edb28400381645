package sessionclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	stateKeyToken        = "credential_token"
	stateKeyIssuedAt     = "credential_issued_at"
	stateKeyKeepLoggedIn = "keep_logged_in"
	stateKeyProfile      = "profile_json"
)

var errSQLiteCacheEmptyPath = errors.New("session.cache.sqlite.empty_path")

type clientStateRecord struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value;not null"`
}

func (clientStateRecord) TableName() string {
	return "session_state"
}

// SQLiteCache persists session state in a local SQLite file so a session
// survives process restarts.
type SQLiteCache struct {
	db *gorm.DB
}

// NewSQLiteCache opens or creates the state file at path.
func NewSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session.cache.sqlite.open: %w", errSQLiteCacheEmptyPath)
	}
	gormDB, openErr := gorm.Open(sqliteDialector.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("session.cache.sqlite.open: %w", openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&clientStateRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("session.cache.sqlite.migrate: %w", migrateErr)
	}
	return &SQLiteCache{db: gormDB}, nil
}

func (cache *SQLiteCache) Credential(ctx context.Context) (Credential, error) {
	values, readErr := cache.readKeys(ctx, stateKeyToken, stateKeyIssuedAt)
	if readErr != nil {
		return Credential{}, fmt.Errorf("session.cache.sqlite.read: %w", readErr)
	}
	token, tokenFound := values[stateKeyToken]
	issuedAtValue, issuedAtFound := values[stateKeyIssuedAt]
	if !tokenFound || !issuedAtFound || strings.TrimSpace(token) == "" {
		return Credential{}, ErrNoCredential
	}
	issuedAtUnix, parseErr := strconv.ParseInt(issuedAtValue, 10, 64)
	if parseErr != nil {
		return Credential{}, fmt.Errorf("session.cache.sqlite.parse_timestamp: %w", parseErr)
	}
	return Credential{Token: token, IssuedAt: time.Unix(issuedAtUnix, 0).UTC()}, nil
}

// StoreCredential writes token and timestamp in one transaction so a crash
// can never leave one half behind.
func (cache *SQLiteCache) StoreCredential(ctx context.Context, credential Credential) error {
	if strings.TrimSpace(credential.Token) == "" || credential.IssuedAt.IsZero() {
		return ErrIncompleteCredential
	}
	err := cache.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tokenErr := upsertState(tx, stateKeyToken, credential.Token); tokenErr != nil {
			return tokenErr
		}
		return upsertState(tx, stateKeyIssuedAt, strconv.FormatInt(credential.IssuedAt.Unix(), 10))
	})
	if err != nil {
		return fmt.Errorf("session.cache.sqlite.store_credential: %w", err)
	}
	return nil
}

func (cache *SQLiteCache) KeepLoggedIn(ctx context.Context) (bool, error) {
	values, readErr := cache.readKeys(ctx, stateKeyKeepLoggedIn)
	if readErr != nil {
		return false, fmt.Errorf("session.cache.sqlite.read: %w", readErr)
	}
	return values[stateKeyKeepLoggedIn] == "true", nil
}

func (cache *SQLiteCache) SetKeepLoggedIn(ctx context.Context, keepLoggedIn bool) error {
	if err := upsertState(cache.db.WithContext(ctx), stateKeyKeepLoggedIn, strconv.FormatBool(keepLoggedIn)); err != nil {
		return fmt.Errorf("session.cache.sqlite.store_preference: %w", err)
	}
	return nil
}

func (cache *SQLiteCache) Profile(ctx context.Context) (Profile, error) {
	values, readErr := cache.readKeys(ctx, stateKeyProfile)
	if readErr != nil {
		return Profile{}, fmt.Errorf("session.cache.sqlite.read: %w", readErr)
	}
	serialized, found := values[stateKeyProfile]
	if !found {
		return Profile{}, ErrNoProfile
	}
	var profile Profile
	if decodeErr := json.Unmarshal([]byte(serialized), &profile); decodeErr != nil {
		return Profile{}, fmt.Errorf("session.cache.sqlite.decode_profile: %w", decodeErr)
	}
	return profile, nil
}

func (cache *SQLiteCache) StoreProfile(ctx context.Context, profile Profile) error {
	serialized, encodeErr := json.Marshal(profile)
	if encodeErr != nil {
		return fmt.Errorf("session.cache.sqlite.encode_profile: %w", encodeErr)
	}
	if err := upsertState(cache.db.WithContext(ctx), stateKeyProfile, string(serialized)); err != nil {
		return fmt.Errorf("session.cache.sqlite.store_profile: %w", err)
	}
	return nil
}

// ClearSession removes credential and profile in one transaction. The
// keep-logged-in row stays untouched.
func (cache *SQLiteCache) ClearSession(ctx context.Context) error {
	err := cache.db.WithContext(ctx).
		Where("key IN ?", []string{stateKeyToken, stateKeyIssuedAt, stateKeyProfile}).
		Delete(&clientStateRecord{}).Error
	if err != nil {
		return fmt.Errorf("session.cache.sqlite.clear_session: %w", err)
	}
	return nil
}

func (cache *SQLiteCache) ClearAll(ctx context.Context) error {
	err := cache.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&clientStateRecord{}).Error
	if err != nil {
		return fmt.Errorf("session.cache.sqlite.clear_all: %w", err)
	}
	return nil
}

func (cache *SQLiteCache) readKeys(ctx context.Context, keys ...string) (map[string]string, error) {
	var records []clientStateRecord
	if err := cache.db.WithContext(ctx).Where("key IN ?", keys).Find(&records).Error; err != nil {
		return nil, err
	}
	values := make(map[string]string, len(records))
	for _, record := range records {
		values[record.Key] = record.Value
	}
	return values, nil
}

func upsertState(tx *gorm.DB, key string, value string) error {
	record := clientStateRecord{Key: key, Value: value}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}

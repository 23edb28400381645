package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DatabaseDirectory persists users and cards using GORM. It serves both the
// UserDirectory and CardDirectory interfaces.
type DatabaseDirectory struct {
	db          *gorm.DB
	driverLabel string
	now         func() int64
}

type userRecord struct {
	UserID        string `gorm:"column:user_id;primaryKey"`
	GoogleSub     string `gorm:"column:google_sub;uniqueIndex;not null"`
	Email         string `gorm:"column:email;not null;default:''"`
	DisplayName   string `gorm:"column:display_name;not null;default:''"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (userRecord) TableName() string {
	return "users"
}

type cardRecord struct {
	CardID        string `gorm:"column:card_id;primaryKey"`
	OwnerUserID   string `gorm:"column:owner_user_id;uniqueIndex;not null"`
	ContactEmail  string `gorm:"column:contact_email;not null;default:''"`
	DisplayName   string `gorm:"column:display_name;not null;default:''"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (cardRecord) TableName() string {
	return "cards"
}

// NewDatabaseDirectory constructs a GORM-backed directory.
func NewDatabaseDirectory(ctx context.Context, databaseURL string, clock Clock) (*DatabaseDirectory, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("directory.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("directory.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}, &cardRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("directory.migrate.%s: %w", driverLabel, migrateErr)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &DatabaseDirectory{
		db:          gormDB,
		driverLabel: driverLabel,
		now:         func() int64 { return clock.Now().Unix() },
	}, nil
}

// UpsertGoogleUser inserts or updates a user keyed by Google subject.
func (directory *DatabaseDirectory) UpsertGoogleUser(ctx context.Context, googleSub string, userEmail string, userDisplayName string) (string, error) {
	applicationUserID := "google:" + googleSub
	nowUnix := directory.now()
	record := userRecord{
		UserID:        applicationUserID,
		GoogleSub:     googleSub,
		Email:         userEmail,
		DisplayName:   userDisplayName,
		CreatedAtUnix: nowUnix,
		UpdatedAtUnix: nowUnix,
	}
	err := directory.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "updated_at_unix"}),
		}).
		Create(&record).Error
	if err != nil {
		return "", fmt.Errorf("directory.upsert_user.%s: %w", directory.driverLabel, err)
	}
	return applicationUserID, nil
}

// UserProfile returns a profile by application user id.
func (directory *DatabaseDirectory) UserProfile(ctx context.Context, applicationUserID string) (UserProfile, error) {
	var record userRecord
	err := directory.db.WithContext(ctx).
		Where("user_id = ?", applicationUserID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserProfile{}, fmt.Errorf("directory.user_profile.%s: %w", directory.driverLabel, ErrUserNotFound)
		}
		return UserProfile{}, fmt.Errorf("directory.user_profile.%s: %w", directory.driverLabel, err)
	}
	return UserProfile{
		Email:       record.Email,
		DisplayName: record.DisplayName,
	}, nil
}

// EnsurePrimaryCard creates the owner's primary card when absent.
func (directory *DatabaseDirectory) EnsurePrimaryCard(ctx context.Context, ownerUserID string, contactEmail string, displayName string) error {
	record := cardRecord{
		CardID:        uuid.NewString(),
		OwnerUserID:   ownerUserID,
		ContactEmail:  contactEmail,
		DisplayName:   displayName,
		CreatedAtUnix: directory.now(),
	}
	err := directory.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_user_id"}},
			DoNothing: true,
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("directory.ensure_card.%s: %w", directory.driverLabel, err)
	}
	return nil
}

// PrimaryCardEmail returns the contact email on the owner's primary card.
func (directory *DatabaseDirectory) PrimaryCardEmail(ctx context.Context, ownerUserID string) (string, error) {
	var record cardRecord
	err := directory.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("directory.card_email.%s: %w", directory.driverLabel, ErrCardNotFound)
		}
		return "", fmt.Errorf("directory.card_email.%s: %w", directory.driverLabel, err)
	}
	return record.ContactEmail, nil
}

package repository

import (
	"context"
	"strings"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by email, ignoring case and surrounding space
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	err := r.db.WithContext(ctx).Where("LOWER(email) = ?", normalized).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByAPIKeyHash resolves an active API key hash to its user and user settings.
func (r *userRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, *models.UserSettings, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, nil, gorm.ErrRecordNotFound
	}
	db := r.db.WithContext(ctx)
	var settings models.UserSettings
	query := db.Where("api_key_hash = ? AND api_key_hash <> '' AND api_key_revoked_at IS NULL", trimmed)
	if err := query.First(&settings).Error; err != nil {
		return nil, nil, err
	}
	var user models.User
	if err := db.First(&user, settings.UserID).Error; err != nil {
		return nil, nil, err
	}
	return &user, &settings, nil
}

// SaveSettings creates or updates the user settings row
func (r *userRepository) SaveSettings(ctx context.Context, settings *models.UserSettings) error {
	return r.db.WithContext(ctx).Save(settings).Error
}

// TouchAPIKeyUsage records the last time a key was used
func (r *userRepository) TouchAPIKeyUsage(ctx context.Context, settingsID uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.UserSettings{}).
		Where("id = ?", settingsID).
		Update("api_key_last_used_at", at).Error
}

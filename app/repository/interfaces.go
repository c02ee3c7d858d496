package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, *models.UserSettings, error)
	SaveSettings(ctx context.Context, settings *models.UserSettings) error
	TouchAPIKeyUsage(ctx context.Context, settingsID uint, at time.Time) error
}

// PaymentFingerprintRepository resolves stored card hashes to users
type PaymentFingerprintRepository interface {
	Create(ctx context.Context, fp *models.PaymentFingerprint) error
	GetByCardHash(ctx context.Context, cardHash string) (*models.PaymentFingerprint, error)
}

// MerchantRepository defines the interface for merchant lookups
type MerchantRepository interface {
	Create(ctx context.Context, merchant *models.Merchant) error
	GetByID(ctx context.Context, id uint) (*models.Merchant, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Merchant, error)
}

// CategoryRepository defines the interface for category operations
type CategoryRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Category, error)
	FirstOrCreateByName(ctx context.Context, name string) (*models.Category, error)
}

// ReceiptRepository defines the interface for receipt operations
type ReceiptRepository interface {
	Create(ctx context.Context, receipt *models.Receipt) error
	GetByID(ctx context.Context, id string) (*models.Receipt, error)
	GetByMerchantTransaction(ctx context.Context, merchantID uint, transactionID string) (*models.Receipt, error)
	UpdatePublicURL(ctx context.Context, id, publicURL string) error
	UpdateArchiveKey(ctx context.Context, id, key string) error
	// ClaimIfUnowned assigns the receipt to userID only while it is still
	// public, unowned and unexpired at now. It reports false when another
	// request changed the receipt first.
	ClaimIfUnowned(ctx context.Context, id string, userID uint, now time.Time) (bool, error)
}

// ExpenseRepository defines the interface for expense operations
type ExpenseRepository interface {
	CreateWithItems(ctx context.Context, expense *models.Expense) error
	GetByReceiptID(ctx context.Context, receiptID string) (*models.Expense, error)
	SetItemCategory(ctx context.Context, itemID string, categoryID uint) error
}

// DeliveryLogFilter narrows a delivery log listing
type DeliveryLogFilter struct {
	Status        string
	TransactionID string
	Since         *time.Time
	Until         *time.Time
}

// DeliveryLogUpdate carries the terminal fields written by Finalize
type DeliveryLogUpdate struct {
	Status       string
	ResponseCode int
	Message      string
	ErrorText    string
	DurationMs   *int64
	ReceiptID    string
	FinalizedAt  time.Time
}

// DeliveryLogRepository defines the interface for webhook delivery log operations
type DeliveryLogRepository interface {
	Create(ctx context.Context, entry *models.WebhookDeliveryLog) error
	GetByID(ctx context.Context, id string) (*models.WebhookDeliveryLog, error)
	// Finalize writes the terminal status only while the entry is open and
	// reports whether a row changed.
	Finalize(ctx context.Context, id string, update DeliveryLogUpdate) (bool, error)
	// BeginRetry moves a failed entry below maxRetries into retry and
	// reports whether a row changed.
	BeginRetry(ctx context.Context, id string, maxRetries int, at time.Time) (bool, error)
	List(ctx context.Context, merchantID uint, filter DeliveryLogFilter, offset, limit int) ([]models.WebhookDeliveryLog, int64, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookDeliveryLog, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User               UserRepository
	PaymentFingerprint PaymentFingerprintRepository
	Merchant           MerchantRepository
	Category           CategoryRepository
	Receipt            ReceiptRepository
	Expense            ExpenseRepository
	DeliveryLog        DeliveryLogRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:               NewUserRepository(db),
		PaymentFingerprint: NewPaymentFingerprintRepository(db),
		Merchant:           NewMerchantRepository(db),
		Category:           NewCategoryRepository(db),
		Receipt:            NewReceiptRepository(db),
		Expense:            NewExpenseRepository(db),
		DeliveryLog:        NewDeliveryLogRepository(db),
	}
}

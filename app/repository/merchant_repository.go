package repository

import (
	"context"
	"strings"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"gorm.io/gorm"
)

type merchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository creates a new merchant repository instance
func NewMerchantRepository(db *gorm.DB) MerchantRepository {
	return &merchantRepository{db: db}
}

func (r *merchantRepository) Create(ctx context.Context, merchant *models.Merchant) error {
	return r.db.WithContext(ctx).Create(merchant).Error
}

func (r *merchantRepository) GetByID(ctx context.Context, id uint) (*models.Merchant, error) {
	var merchant models.Merchant
	if err := r.db.WithContext(ctx).First(&merchant, id).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}

// GetByAPIKeyHash resolves a merchant key hash. Inactive merchants are
// returned too; the caller decides how to reject them.
func (r *merchantRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Merchant, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var merchant models.Merchant
	if err := r.db.WithContext(ctx).Where("api_key_hash = ?", trimmed).First(&merchant).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}

type paymentFingerprintRepository struct {
	db *gorm.DB
}

// NewPaymentFingerprintRepository creates a new card fingerprint repository
func NewPaymentFingerprintRepository(db *gorm.DB) PaymentFingerprintRepository {
	return &paymentFingerprintRepository{db: db}
}

func (r *paymentFingerprintRepository) Create(ctx context.Context, fp *models.PaymentFingerprint) error {
	fp.CardHash = models.NormalizeCardHash(fp.CardHash)
	return r.db.WithContext(ctx).Create(fp).Error
}

func (r *paymentFingerprintRepository) GetByCardHash(ctx context.Context, cardHash string) (*models.PaymentFingerprint, error) {
	normalized := models.NormalizeCardHash(cardHash)
	if normalized == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var fp models.PaymentFingerprint
	if err := r.db.WithContext(ctx).Where("card_hash = ?", normalized).First(&fp).Error; err != nil {
		return nil, err
	}
	return &fp, nil
}

type categoryRepository struct {
	db *gorm.DB
}

// NewCategoryRepository creates a new category repository instance
func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) GetByID(ctx context.Context, id uint) (*models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).First(&category, id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// FirstOrCreateByName returns the category with the given name, creating it
// on first use.
func (r *categoryRepository) FirstOrCreateByName(ctx context.Context, name string) (*models.Category, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var category models.Category
	err := r.db.WithContext(ctx).
		Where(models.Category{Name: trimmed}).
		FirstOrCreate(&category).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

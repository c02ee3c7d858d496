package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are built once
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns the shared set of repositories for this factory
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetUserRepository returns the user repository instance
func (f *Factory) GetUserRepository() UserRepository {
	return f.GetRepositories().User
}

// GetMerchantRepository returns the merchant repository instance
func (f *Factory) GetMerchantRepository() MerchantRepository {
	return f.GetRepositories().Merchant
}

// GetReceiptRepository returns the receipt repository instance
func (f *Factory) GetReceiptRepository() ReceiptRepository {
	return f.GetRepositories().Receipt
}

// GetDeliveryLogRepository returns the delivery log repository instance
func (f *Factory) GetDeliveryLogRepository() DeliveryLogRepository {
	return f.GetRepositories().DeliveryLog
}

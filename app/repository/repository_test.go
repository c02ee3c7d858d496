package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedPublicReceipt(t *testing.T, repos *Repositories, expiresAt time.Time) *models.Receipt {
	t.Helper()
	ctx := context.Background()
	receipt := &models.Receipt{
		MerchantID:            1,
		MerchantName:          "Corner Shop",
		MerchantTransactionID: "TXN-1",
		TransactionAt:         expiresAt.Add(-models.PublicReceiptTTL),
		TotalAmount:           decimal.NewFromInt(100),
		Currency:              "TRY",
		Source:                models.ReceiptSourcePublicWebhook,
		IsPublic:              true,
		ExpiresAt:             &expiresAt,
	}
	require.NoError(t, repos.Receipt.Create(ctx, receipt))

	expense := &models.Expense{
		ReceiptID:   receipt.ID,
		TotalAmount: decimal.NewFromInt(100),
		Currency:    "TRY",
		OccurredOn:  receipt.TransactionAt,
		Items: []models.ExpenseItem{
			{Description: "bread", Amount: decimal.NewFromInt(40), Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(20), Position: 0},
			{Description: "tea", Amount: decimal.NewFromInt(60), Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(60), Position: 1},
		},
	}
	require.NoError(t, repos.Expense.CreateWithItems(ctx, expense))
	return receipt
}

func TestUserRepositoryGetByEmailIgnoresCase(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	user, err := models.CreateUser("alice", "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, repos.User.Create(ctx, user))

	found, err := repos.User.GetByEmail(ctx, "  ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = repos.User.GetByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = repos.User.GetByEmail(ctx, "   ")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUserRepositoryGetByAPIKeyHash(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	user, err := models.CreateUser("alice", "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, repos.User.Create(ctx, user))

	settings := &models.UserSettings{UserID: user.ID}
	key, err := settings.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, repos.User.SaveSettings(ctx, settings))

	found, foundSettings, err := repos.User.GetByAPIKeyHash(ctx, models.HashAPIKey(key))
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, settings.ID, foundSettings.ID)

	settings.RevokeAPIKey()
	require.NoError(t, repos.User.SaveSettings(ctx, settings))
	_, _, err = repos.User.GetByAPIKeyHash(ctx, models.HashAPIKey(key))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPaymentFingerprintLookupNormalizesHash(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	hash := models.HashCardNumber("4111 1111 1111 1111")
	require.NoError(t, repos.PaymentFingerprint.Create(ctx, &models.PaymentFingerprint{UserID: 9, CardHash: hash, LastFour: "1111"}))

	fp, err := repos.PaymentFingerprint.GetByCardHash(ctx, " "+hash+" ")
	require.NoError(t, err)
	assert.Equal(t, uint(9), fp.UserID)
}

func TestCategoryFirstOrCreateByName(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	first, err := repos.Category.FirstOrCreateByName(ctx, "Groceries")
	require.NoError(t, err)
	second, err := repos.Category.FirstOrCreateByName(ctx, " Groceries ")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Category{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReceiptClaimIfUnownedCascadesOwner(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC()

	receipt := seedPublicReceipt(t, repos, now.Add(time.Hour))

	claimed, err := repos.Receipt.ClaimIfUnowned(ctx, receipt.ID, 42, now)
	require.NoError(t, err)
	require.True(t, claimed)

	loaded, err := repos.Receipt.GetByID(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsOwnedBy(42))
	assert.False(t, loaded.IsPublic)
	assert.Nil(t, loaded.ExpiresAt)
	assert.NotNil(t, loaded.ClaimedAt)
	assert.Equal(t, models.ReceiptSourceScanClaimed, loaded.Source)
	require.NotNil(t, loaded.Expense)
	require.Len(t, loaded.Expense.Items, 2)
	assert.Equal(t, "bread", loaded.Expense.Items[0].Description)
	assert.True(t, loaded.OwnershipConsistent())

	again, err := repos.Receipt.ClaimIfUnowned(ctx, receipt.ID, 43, now)
	require.NoError(t, err)
	assert.False(t, again)

	loaded, err = repos.Receipt.GetByID(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsOwnedBy(42))
}

func TestReceiptClaimIfUnownedRefusesExpired(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC()

	receipt := seedPublicReceipt(t, repos, now.Add(-time.Hour))

	claimed, err := repos.Receipt.ClaimIfUnowned(ctx, receipt.ID, 42, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	loaded, err := repos.Receipt.GetByID(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.OwnerID)
	assert.True(t, loaded.IsPublic)
	assert.Nil(t, loaded.Expense.OwnerID)
}

func TestReceiptUpdatePublicURLAndLookup(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	receipt := seedPublicReceipt(t, repos, time.Now().UTC().Add(time.Hour))
	require.NoError(t, repos.Receipt.UpdatePublicURL(ctx, receipt.ID, "https://rf.test/receipts/public/"+receipt.ID))

	found, err := repos.Receipt.GetByMerchantTransaction(ctx, 1, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, receipt.ID, found.ID)
	assert.Equal(t, "https://rf.test/receipts/public/"+receipt.ID, found.PublicURL)

	assert.ErrorIs(t, repos.Receipt.UpdatePublicURL(ctx, "missing", "x"), gorm.ErrRecordNotFound)
}

func TestExpenseSetItemCategory(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	receipt := seedPublicReceipt(t, repos, time.Now().UTC().Add(time.Hour))
	category, err := repos.Category.FirstOrCreateByName(ctx, "Groceries")
	require.NoError(t, err)

	expense, err := repos.Expense.GetByReceiptID(ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, expense.Items, 2)
	require.NoError(t, repos.Expense.SetItemCategory(ctx, expense.Items[1].ID, category.ID))

	loaded, err := repos.Receipt.GetByID(ctx, receipt.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Expense.Items[0].IsCategorized())
	assert.True(t, loaded.Expense.Items[1].IsCategorized())
	assert.Equal(t, "Groceries", loaded.Expense.Items[1].CategoryName())
}

func TestDeliveryLogLifecycle(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := &models.WebhookDeliveryLog{MerchantID: 1, TransactionID: "TXN-1", Status: models.DeliveryStatusPending, Payload: "{}"}
	require.NoError(t, repos.DeliveryLog.Create(ctx, entry))
	require.NotEmpty(t, entry.ID)

	duration := int64(12)
	changed, err := repos.DeliveryLog.Finalize(ctx, entry.ID, DeliveryLogUpdate{
		Status: models.DeliveryStatusFailed, ResponseCode: 500, ErrorText: "boom", DurationMs: &duration, FinalizedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repos.DeliveryLog.Finalize(ctx, entry.ID, DeliveryLogUpdate{Status: models.DeliveryStatusSuccess, FinalizedAt: now})
	require.NoError(t, err)
	assert.False(t, changed, "finalized entries must not change again")

	for i := 1; i <= 3; i++ {
		ok, err := repos.DeliveryLog.BeginRetry(ctx, entry.ID, 3, now)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repos.DeliveryLog.BeginRetry(ctx, entry.ID, 3, now)
		require.NoError(t, err)
		assert.False(t, ok, "retry requires failed status")

		_, err = repos.DeliveryLog.Finalize(ctx, entry.ID, DeliveryLogUpdate{Status: models.DeliveryStatusFailed, FinalizedAt: now})
		require.NoError(t, err)

		loaded, err := repos.DeliveryLog.GetByID(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, i, loaded.RetryCount)
	}

	ok, err := repos.DeliveryLog.BeginRetry(ctx, entry.ID, 3, now)
	require.NoError(t, err)
	assert.False(t, ok, "retry ceiling reached")
}

func TestDeliveryLogListAndStale(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		status := models.DeliveryStatusSuccess
		if i%2 == 0 {
			status = models.DeliveryStatusPending
		}
		require.NoError(t, repos.DeliveryLog.Create(ctx, &models.WebhookDeliveryLog{
			MerchantID:    1,
			TransactionID: fmt.Sprintf("TXN-%d", i),
			Status:        status,
			Payload:       "{}",
			CreatedAt:     base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, repos.DeliveryLog.Create(ctx, &models.WebhookDeliveryLog{MerchantID: 2, TransactionID: "OTHER", Status: models.DeliveryStatusPending, Payload: "{}", CreatedAt: base.Add(30 * time.Minute)}))

	entries, total, err := repos.DeliveryLog.List(ctx, 1, DeliveryLogFilter{}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "TXN-4", entries[0].TransactionID)

	entries, total, err = repos.DeliveryLog.List(ctx, 1, DeliveryLogFilter{Status: models.DeliveryStatusSuccess}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 2)

	entries, _, err = repos.DeliveryLog.List(ctx, 1, DeliveryLogFilter{TransactionID: "TXN-3"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	stale, err := repos.DeliveryLog.ListStale(ctx, base.Add(150*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 3)
	assert.Equal(t, "TXN-0", stale[0].TransactionID)
}

// Package memstore provides in-memory implementations of the repository
// interfaces for service tests. Every read returns a copy so callers cannot
// mutate stored state without going through a repository method.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/app/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store holds all records. The Fail* fields inject errors into the matching
// write path.
type Store struct {
	mu sync.Mutex

	users        map[uint]models.User
	settings     map[uint]models.UserSettings
	fingerprints map[string]models.PaymentFingerprint
	merchants    map[uint]models.Merchant
	categories   map[uint]models.Category
	receipts     map[string]models.Receipt
	expenses     map[string]models.Expense
	items        map[string]models.ExpenseItem
	logs         map[string]models.WebhookDeliveryLog

	nextID uint

	FailReceiptCreate  error
	FailExpenseCreate  error
	FailDeliveryCreate error
	FailFinalize       error
	FailSetCategory    error
	FailUserLookup     error
}

func New() *Store {
	return &Store{
		users:        make(map[uint]models.User),
		settings:     make(map[uint]models.UserSettings),
		fingerprints: make(map[string]models.PaymentFingerprint),
		merchants:    make(map[uint]models.Merchant),
		categories:   make(map[uint]models.Category),
		receipts:     make(map[string]models.Receipt),
		expenses:     make(map[string]models.Expense),
		items:        make(map[string]models.ExpenseItem),
		logs:         make(map[string]models.WebhookDeliveryLog),
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		User:               (*userRepo)(s),
		PaymentFingerprint: (*fingerprintRepo)(s),
		Merchant:           (*merchantRepo)(s),
		Category:           (*categoryRepo)(s),
		Receipt:            (*receiptRepo)(s),
		Expense:            (*expenseRepo)(s),
		DeliveryLog:        (*deliveryRepo)(s),
	}
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

// AddUser stores a user and returns it with its assigned id.
func (s *Store) AddUser(name, email string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: s.id(), Name: name, Email: models.NormalizeEmail(email), Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	s.users[u.ID] = u
	return u
}

// SetRole changes the role of a stored user.
func (s *Store) SetRole(userID uint, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.Role = role
	s.users[userID] = u
}

// AddCard links a card hash to userID.
func (s *Store) AddCard(userID uint, cardHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := models.NormalizeCardHash(cardHash)
	s.fingerprints[hash] = models.PaymentFingerprint{ID: s.id(), UserID: userID, CardHash: hash}
}

// AddMerchant stores a merchant and returns it with its assigned id.
func (s *Store) AddMerchant(m models.Merchant) models.Merchant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.id()
	}
	s.merchants[m.ID] = m
	return m
}

// PutReceipt replaces a stored receipt row as is, for arranging test state.
func (s *Store) PutReceipt(r models.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Expense = nil
	s.receipts[r.ID] = r
}

// Log returns the stored delivery log entry.
func (s *Store) Log(id string) (models.WebhookDeliveryLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	return l, ok
}

// Logs returns every stored delivery log entry.
func (s *Store) Logs() []models.WebhookDeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WebhookDeliveryLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, l)
	}
	return out
}

// ReceiptCount returns the number of stored receipts.
func (s *Store) ReceiptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

func (s *Store) loadReceipt(id string) (*models.Receipt, bool) {
	r, ok := s.receipts[id]
	if !ok {
		return nil, false
	}
	out := copyReceipt(r)
	for _, e := range s.expenses {
		if e.ReceiptID == id {
			out.Expense = s.loadExpense(e)
			break
		}
	}
	return out, true
}

func (s *Store) loadExpense(e models.Expense) *models.Expense {
	out := e
	out.OwnerID = copyUint(e.OwnerID)
	out.Items = nil
	for _, it := range s.items {
		if it.ExpenseID != e.ID {
			continue
		}
		item := it
		item.OwnerID = copyUint(it.OwnerID)
		item.CategoryID = copyUint(it.CategoryID)
		if item.CategoryID != nil {
			if c, ok := s.categories[*item.CategoryID]; ok {
				cat := c
				item.Category = &cat
			}
		}
		out.Items = append(out.Items, item)
	}
	sort.SliceStable(out.Items, func(i, j int) bool { return out.Items[i].Position < out.Items[j].Position })
	return &out
}

func copyReceipt(r models.Receipt) *models.Receipt {
	out := r
	out.OwnerID = copyUint(r.OwnerID)
	out.ExpiresAt = copyTime(r.ExpiresAt)
	out.ClaimedAt = copyTime(r.ClaimedAt)
	out.Expense = nil
	return &out
}

func copyUint(v *uint) *uint {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type userRepo Store

func (r *userRepo) Create(_ context.Context, user *models.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	user.ID = s.id()
	s.users[user.ID] = *user
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id uint) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUserLookup != nil {
		return nil, s.FailUserLookup
	}
	normalized := models.NormalizeEmail(email)
	for _, u := range s.users {
		if normalized != "" && u.Email == normalized {
			found := u
			return &found, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *userRepo) GetByAPIKeyHash(_ context.Context, hash string) (*models.User, *models.UserSettings, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.settings {
		if st.HasActiveAPIKey() && st.APIKeyHash == strings.TrimSpace(hash) {
			u, ok := s.users[st.UserID]
			if !ok {
				return nil, nil, gorm.ErrRecordNotFound
			}
			settings := st
			return &u, &settings, nil
		}
	}
	return nil, nil, gorm.ErrRecordNotFound
}

func (r *userRepo) SaveSettings(_ context.Context, settings *models.UserSettings) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.ID == 0 {
		settings.ID = s.id()
	}
	s.settings[settings.ID] = *settings
	return nil
}

func (r *userRepo) TouchAPIKeyUsage(_ context.Context, settingsID uint, at time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[settingsID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	st.APIKeyLastUsedAt = &at
	s.settings[settingsID] = st
	return nil
}

type fingerprintRepo Store

func (r *fingerprintRepo) Create(_ context.Context, fp *models.PaymentFingerprint) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	fp.ID = s.id()
	fp.CardHash = models.NormalizeCardHash(fp.CardHash)
	s.fingerprints[fp.CardHash] = *fp
	return nil
}

func (r *fingerprintRepo) GetByCardHash(_ context.Context, cardHash string) (*models.PaymentFingerprint, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[models.NormalizeCardHash(cardHash)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &fp, nil
}

type merchantRepo Store

func (r *merchantRepo) Create(_ context.Context, m *models.Merchant) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	s.merchants[m.ID] = *m
	return nil
}

func (r *merchantRepo) GetByID(_ context.Context, id uint) (*models.Merchant, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &m, nil
}

func (r *merchantRepo) GetByAPIKeyHash(_ context.Context, hash string) (*models.Merchant, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.merchants {
		if m.APIKeyHash != "" && m.APIKeyHash == strings.TrimSpace(hash) {
			found := m
			return &found, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type categoryRepo Store

func (r *categoryRepo) GetByID(_ context.Context, id uint) (*models.Category, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (r *categoryRepo) FirstOrCreateByName(_ context.Context, name string) (*models.Category, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, c := range s.categories {
		if c.Name == trimmed {
			found := c
			return &found, nil
		}
	}
	c := models.Category{ID: s.id(), Name: trimmed}
	s.categories[c.ID] = c
	return &c, nil
}

type receiptRepo Store

func (r *receiptRepo) Create(_ context.Context, receipt *models.Receipt) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReceiptCreate != nil {
		return s.FailReceiptCreate
	}
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now
	s.receipts[receipt.ID] = *copyReceipt(*receipt)
	return nil
}

func (r *receiptRepo) GetByID(_ context.Context, id string) (*models.Receipt, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.loadReceipt(id)
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return out, nil
}

func (r *receiptRepo) GetByMerchantTransaction(_ context.Context, merchantID uint, transactionID string) (*models.Receipt, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Receipt
	for _, rc := range s.receipts {
		if rc.MerchantID != merchantID || rc.MerchantTransactionID != transactionID {
			continue
		}
		if oldest == nil || rc.CreatedAt.Before(oldest.CreatedAt) {
			oldest = copyReceipt(rc)
		}
	}
	if oldest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	out, _ := s.loadReceipt(oldest.ID)
	return out, nil
}

func (r *receiptRepo) UpdatePublicURL(_ context.Context, id, publicURL string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.receipts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	rc.PublicURL = publicURL
	s.receipts[id] = rc
	return nil
}

func (r *receiptRepo) UpdateArchiveKey(_ context.Context, id, key string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.receipts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	rc.PayloadArchiveKey = key
	s.receipts[id] = rc
	return nil
}

// ClaimIfUnowned checks and writes under one lock, matching the conditional
// update of the SQL implementation.
func (r *receiptRepo) ClaimIfUnowned(_ context.Context, id string, userID uint, now time.Time) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.receipts[id]
	if !ok || !rc.IsClaimable(now) {
		return false, nil
	}
	rc.AssignOwner(userID, now)
	s.receipts[id] = rc
	for eid, e := range s.expenses {
		if e.ReceiptID != id {
			continue
		}
		e.OwnerID = copyUint(rc.OwnerID)
		s.expenses[eid] = e
		for iid, it := range s.items {
			if it.ExpenseID == eid {
				it.OwnerID = copyUint(rc.OwnerID)
				s.items[iid] = it
			}
		}
	}
	return true, nil
}

type expenseRepo Store

func (r *expenseRepo) CreateWithItems(_ context.Context, expense *models.Expense) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailExpenseCreate != nil {
		return s.FailExpenseCreate
	}
	if expense.ID == "" {
		expense.ID = uuid.NewString()
	}
	for i := range expense.Items {
		if expense.Items[i].ID == "" {
			expense.Items[i].ID = uuid.NewString()
		}
		expense.Items[i].ExpenseID = expense.ID
		expense.Items[i].OwnerID = copyUint(expense.OwnerID)
		item := expense.Items[i]
		item.Category = nil
		item.OwnerID = copyUint(expense.OwnerID)
		item.CategoryID = copyUint(expense.Items[i].CategoryID)
		s.items[item.ID] = item
	}
	stored := *expense
	stored.Items = nil
	stored.OwnerID = copyUint(expense.OwnerID)
	s.expenses[stored.ID] = stored
	return nil
}

func (r *expenseRepo) GetByReceiptID(_ context.Context, receiptID string) (*models.Expense, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.expenses {
		if e.ReceiptID == receiptID {
			return s.loadExpense(e), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *expenseRepo) SetItemCategory(_ context.Context, itemID string, categoryID uint) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSetCategory != nil {
		return s.FailSetCategory
	}
	it, ok := s.items[itemID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	it.CategoryID = &categoryID
	s.items[itemID] = it
	return nil
}

type deliveryRepo Store

func (r *deliveryRepo) Create(_ context.Context, entry *models.WebhookDeliveryLog) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDeliveryCreate != nil {
		return s.FailDeliveryCreate
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.logs[entry.ID] = *entry
	return nil
}

func (r *deliveryRepo) GetByID(_ context.Context, id string) (*models.WebhookDeliveryLog, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &l, nil
}

func (r *deliveryRepo) Finalize(_ context.Context, id string, update repository.DeliveryLogUpdate) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFinalize != nil {
		return false, s.FailFinalize
	}
	l, ok := s.logs[id]
	if !ok || !l.IsOpen() {
		return false, nil
	}
	l.Status = update.Status
	l.ResponseCode = update.ResponseCode
	l.Message = update.Message
	l.ErrorText = update.ErrorText
	l.DurationMs = update.DurationMs
	l.ReceiptID = update.ReceiptID
	finalized := update.FinalizedAt
	l.FinalizedAt = &finalized
	s.logs[id] = l
	return true, nil
}

func (r *deliveryRepo) BeginRetry(_ context.Context, id string, maxRetries int, at time.Time) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok || l.Status != models.DeliveryStatusFailed || l.RetryCount >= maxRetries {
		return false, nil
	}
	l.Status = models.DeliveryStatusRetry
	l.RetryCount++
	l.LastRetryAt = &at
	l.FinalizedAt = nil
	s.logs[id] = l
	return true, nil
}

func (r *deliveryRepo) List(_ context.Context, merchantID uint, filter repository.DeliveryLogFilter, offset, limit int) ([]models.WebhookDeliveryLog, int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.WebhookDeliveryLog
	for _, l := range s.logs {
		if l.MerchantID != merchantID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.TransactionID != "" && l.TransactionID != filter.TransactionID {
			continue
		}
		if filter.Since != nil && l.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !l.CreatedAt.Before(*filter.Until) {
			continue
		}
		matched = append(matched, l)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.WebhookDeliveryLog{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *deliveryRepo) ListStale(_ context.Context, olderThan time.Time, limit int) ([]models.WebhookDeliveryLog, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WebhookDeliveryLog
	for _, l := range s.logs {
		if l.Status == models.DeliveryStatusPending && l.CreatedAt.Before(olderThan) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

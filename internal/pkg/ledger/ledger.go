// Package ledger records webhook delivery attempts and their retries.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/app/repository"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/shortener"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// MaxRetries caps operator replays per entry.
	MaxRetries = 3

	LocalIDPrefix = "local_"

	DefaultPerPage = 20
	MaxPerPage     = 100
)

type FinalizeOptions struct {
	ResponseCode int
	Message      string
	Error        string
	DurationMs   *int64
	ReceiptID    string
}

type Page struct {
	Page    int
	PerPage int
}

// Normalize clamps the page into the accepted bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

type Filters struct {
	Status        string
	TransactionID string
	Since         *time.Time
	Until         *time.Time
}

type Ledger struct {
	repo repository.DeliveryLogRepository
	now  func() time.Time
}

func New(repo repository.DeliveryLogRepository) *Ledger {
	return &Ledger{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// IsLocalID reports whether id was generated because the store write failed.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Record appends a pending entry. It never fails: when the store is
// unavailable a local id is returned so processing can continue.
func (l *Ledger) Record(ctx context.Context, merchantID uint, transactionID string, payload []byte) string {
	entry := &models.WebhookDeliveryLog{
		ID:            uuid.NewString(),
		MerchantID:    merchantID,
		TransactionID: transactionID,
		Status:        models.DeliveryStatusPending,
		Payload:       string(payload),
		CreatedAt:     l.now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		localID, slugErr := shortener.PrefixedSlug(LocalIDPrefix, 16)
		if slugErr != nil {
			localID = LocalIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		log.Warnf("[Ledger] Failed to record delivery for merchant %d tx %s, using %s: %v", merchantID, transactionID, localID, err)
		return localID
	}
	return entry.ID
}

// Finalize moves an open entry to success or failed. Entries that are
// already final are left untouched. Store failures are logged, not returned.
func (l *Ledger) Finalize(ctx context.Context, id, status string, opts FinalizeOptions) bool {
	if status != models.DeliveryStatusSuccess && status != models.DeliveryStatusFailed {
		log.Errorf("[Ledger] Refusing to finalize %s with status %q", id, status)
		return false
	}
	if IsLocalID(id) {
		log.Warnf("[Ledger] Delivery %s finished with %s (not persisted): %s %s", id, status, opts.Message, opts.Error)
		return false
	}

	changed, err := l.repo.Finalize(ctx, id, repository.DeliveryLogUpdate{
		Status:       status,
		ResponseCode: opts.ResponseCode,
		Message:      truncate(opts.Message, 255),
		ErrorText:    opts.Error,
		DurationMs:   opts.DurationMs,
		ReceiptID:    opts.ReceiptID,
		FinalizedAt:  l.now(),
	})
	if err != nil {
		log.Errorf("[Ledger] Failed to finalize delivery %s as %s: %v", id, status, err)
		return false
	}
	if !changed {
		log.Warnf("[Ledger] Delivery %s was not open, finalize to %s ignored", id, status)
	}
	return changed
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.WebhookDeliveryLog, error) {
	entry, err := l.repo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "delivery %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "delivery lookup failed", err)
	}
	return entry, nil
}

// List returns one page of a merchant's entries, newest first.
func (l *Ledger) List(ctx context.Context, merchantID uint, page Page, filters Filters) ([]models.WebhookDeliveryLog, int64, error) {
	page = page.Normalize()
	offset := (page.Page - 1) * page.PerPage
	entries, total, err := l.repo.List(ctx, merchantID, repository.DeliveryLogFilter{
		Status:        filters.Status,
		TransactionID: filters.TransactionID,
		Since:         filters.Since,
		Until:         filters.Until,
	}, offset, page.PerPage)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "delivery listing failed", err)
	}
	return entries, total, nil
}

// BeginRetry moves a failed entry below the retry ceiling into retry and
// returns it. The caller re-runs processing and finalizes the entry again.
func (l *Ledger) BeginRetry(ctx context.Context, id string) (*models.WebhookDeliveryLog, error) {
	entry, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.DeliveryStatusFailed {
		return nil, apperr.Newf(apperr.KindConflict, "delivery %s has status %s, only failed deliveries can be retried", id, entry.Status)
	}
	if entry.RetryCount >= MaxRetries {
		return nil, apperr.Newf(apperr.KindConflict, "delivery %s reached the retry limit of %d", id, MaxRetries)
	}

	ok, err := l.repo.BeginRetry(ctx, id, MaxRetries, l.now())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "retry update failed", err)
	}
	if !ok {
		return nil, apperr.Newf(apperr.KindConflict, "delivery %s changed while starting the retry", id)
	}
	return l.Get(ctx, id)
}

// ListStale returns pending entries older than age. These may belong to
// requests that were aborted; they are reported, never auto-failed.
func (l *Ledger) ListStale(ctx context.Context, age time.Duration, limit int) ([]models.WebhookDeliveryLog, error) {
	if limit < 1 || limit > MaxPerPage {
		limit = MaxPerPage
	}
	entries, err := l.repo.ListStale(ctx, l.now().Add(-age), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "stale delivery listing failed", err)
	}
	return entries, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

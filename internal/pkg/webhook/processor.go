// Package webhook turns merchant POS transaction events into receipts and
// resolves who owns them.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/enrichment"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/identity"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/ledger"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/receipts"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
)

const (
	MessageNoContact        = "no contact info provided; published as public receipt"
	MessageUnmatchedContact = "contact info provided but no matching user; published as public receipt"
	MessagePrivate          = "receipt created for matched user"
	MessageDuplicate        = "transaction already processed"
)

// MerchantDirectory resolves the name printed on receipts.
type MerchantDirectory interface {
	DisplayName(ctx context.Context, merchantID uint) string
}

// PayloadArchiver stores the raw body of a delivery and returns its key.
type PayloadArchiver interface {
	Store(ctx context.Context, merchantID uint, receiptID string, body []byte) (string, error)
}

// OutcomeRecorder counts finished deliveries. Implementations must not fail
// the delivery.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, merchantID uint, outcome string)
}

// Result is returned to the merchant for every delivery.
type Result struct {
	Success          bool            `json:"success"`
	Message          string          `json:"message"`
	TransactionID    string          `json:"transaction_id"`
	DeliveryID       string          `json:"delivery_id"`
	MatchedUserID    *uint           `json:"matched_user_id"`
	MatchMethod      identity.Method `json:"match_method,omitempty"`
	MatchConfidence  float64         `json:"match_confidence"`
	ReceiptID        string          `json:"receipt_id,omitempty"`
	ExpenseID        string          `json:"expense_id,omitempty"`
	IsPublicReceipt  bool            `json:"is_public_receipt"`
	PublicURL        string          `json:"public_url,omitempty"`
	ClaimCode        string          `json:"claim_code,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	Duplicate        bool            `json:"duplicate,omitempty"`
	LoyaltyPoints    *int            `json:"loyalty_points,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	ErrorKind        apperr.Kind     `json:"error_kind,omitempty"`

	err error
}

// HTTPStatus is the response status for the result. A partial failure is
// reported as 207 so merchants can tell it from a clean rejection.
func (r Result) HTTPStatus() int {
	if r.Success {
		return http.StatusOK
	}
	if r.ErrorKind == apperr.KindPartialFailure {
		return http.StatusMultiStatus
	}
	return apperr.HTTPStatus(r.ErrorKind)
}

// Err returns the error behind a failed result.
// Outcome classifies the result for delivery counters.
func (r Result) Outcome() string {
	switch {
	case !r.Success && r.ErrorKind != "":
		return string(r.ErrorKind)
	case !r.Success:
		return string(apperr.KindInternal)
	case r.Duplicate:
		return "duplicate"
	case r.IsPublicReceipt:
		return "public"
	default:
		return "private"
	}
}

func (r Result) Err() error {
	return r.err
}

type Processor struct {
	ledger       *ledger.Ledger
	matcher      *identity.Matcher
	materializer *receipts.Materializer
	enricher     *enrichment.Enricher
	codec        *receipts.ClaimCodec
	merchants    MerchantDirectory
	archiver     PayloadArchiver
	outcomes     OutcomeRecorder
	validate     *validator.Validate
	now          func() time.Time
}

func NewProcessor(l *ledger.Ledger, matcher *identity.Matcher, materializer *receipts.Materializer, enricher *enrichment.Enricher, codec *receipts.ClaimCodec) *Processor {
	return &Processor{
		ledger:       l,
		matcher:      matcher,
		materializer: materializer,
		enricher:     enricher,
		codec:        codec,
		validate:     newValidator(),
		now:          time.Now,
	}
}

func (p *Processor) WithMerchantDirectory(d MerchantDirectory) *Processor {
	p.merchants = d
	return p
}

func (p *Processor) WithArchiver(a PayloadArchiver) *Processor {
	p.archiver = a
	return p
}

func (p *Processor) WithOutcomeRecorder(r OutcomeRecorder) *Processor {
	p.outcomes = r
	return p
}

// WithClock replaces the time source used for durations.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// ProcessRaw decodes body and processes it. Undecodable bodies are still
// recorded in the ledger and finalized as failed.
func (p *Processor) ProcessRaw(ctx context.Context, merchantID uint, body []byte) Result {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		txID := peekTransactionID(body)
		deliveryID := p.ledger.Record(ctx, merchantID, txID, body)
		return p.execute(ctx, deliveryID, merchantID, txID, func(context.Context) Result {
			return failure(txID, apperr.Wrap(apperr.KindValidation, "payload is not valid JSON", err))
		})
	}
	return p.Process(ctx, merchantID, payload, body)
}

// Process runs one delivery. The ledger entry is created before anything
// else and finalized exactly once on every exit, panics included.
func (p *Processor) Process(ctx context.Context, merchantID uint, payload Payload, rawBody []byte) Result {
	if len(rawBody) == 0 {
		rawBody, _ = json.Marshal(payload)
	}
	deliveryID := p.ledger.Record(ctx, merchantID, payload.TransactionID, rawBody)
	return p.execute(ctx, deliveryID, merchantID, payload.TransactionID, func(ctx context.Context) Result {
		return p.run(ctx, merchantID, payload, rawBody)
	})
}

// Replay re-runs a failed delivery with its stored payload. The error is
// set only when the retry itself is refused.
func (p *Processor) Replay(ctx context.Context, deliveryID string) (Result, error) {
	entry, err := p.ledger.BeginRetry(ctx, deliveryID)
	if err != nil {
		return Result{}, err
	}
	log.Infof("[Webhook] Replaying delivery %s (retry %d/%d)", entry.ID, entry.RetryCount, ledger.MaxRetries)

	body := []byte(entry.Payload)
	return p.execute(ctx, entry.ID, entry.MerchantID, entry.TransactionID, func(ctx context.Context) Result {
		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			return failure(entry.TransactionID, apperr.Wrap(apperr.KindValidation, "stored payload is not valid JSON", err))
		}
		return p.run(ctx, entry.MerchantID, payload, body)
	}), nil
}

func (p *Processor) execute(ctx context.Context, deliveryID string, merchantID uint, transactionID string, step func(context.Context) Result) (result Result) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Webhook] Panic while processing delivery %s for merchant %d: %v", deliveryID, merchantID, r)
			result = failure(transactionID, apperr.New(apperr.KindInternal, fmt.Sprintf("unexpected error: %v", r)))
		}
		result.DeliveryID = deliveryID
		p.finish(ctx, start, &result)
		if p.outcomes != nil {
			p.outcomes.RecordOutcome(context.WithoutCancel(ctx), merchantID, result.Outcome())
		}
	}()
	return step(ctx)
}

func (p *Processor) finish(ctx context.Context, start time.Time, result *Result) {
	duration := p.now().Sub(start).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	result.ProcessingTimeMs = duration

	status := models.DeliveryStatusSuccess
	errText := ""
	if !result.Success {
		status = models.DeliveryStatusFailed
		if result.err != nil {
			errText = result.err.Error()
		} else {
			errText = result.Message
		}
	}

	// The response may already be abandoned; the ledger entry still has to close.
	p.ledger.Finalize(context.WithoutCancel(ctx), result.DeliveryID, status, ledger.FinalizeOptions{
		ResponseCode: result.HTTPStatus(),
		Message:      result.Message,
		Error:        errText,
		DurationMs:   &duration,
		ReceiptID:    result.ReceiptID,
	})

	if result.Success {
		log.Infof("[Webhook] Delivery %s tx %s done in %dms: %s", result.DeliveryID, result.TransactionID, duration, result.Message)
	} else {
		log.Warnf("[Webhook] Delivery %s tx %s failed in %dms: %s", result.DeliveryID, result.TransactionID, duration, errText)
	}
}

func (p *Processor) run(ctx context.Context, merchantID uint, payload Payload, rawBody []byte) Result {
	if err := payload.Validate(p.validate); err != nil {
		return failure(payload.TransactionID, err)
	}

	draft := p.newDraft(ctx, merchantID, payload, rawBody)

	existing, err := p.materializer.FindByTransaction(ctx, merchantID, payload.TransactionID)
	if err != nil {
		return failure(payload.TransactionID, err)
	}
	if existing != nil {
		return p.resume(ctx, existing, draft)
	}

	contact := payload.Contact()
	if !contact.HasSignal() {
		return p.publish(ctx, draft, MessageNoContact, identity.MatchResult{})
	}

	match, err := p.matcher.Match(ctx, contact)
	if err != nil {
		return failure(payload.TransactionID, apperr.Wrap(apperr.KindInternal, "identity lookup failed", err))
	}
	if !match.Matched {
		return p.publish(ctx, draft, MessageUnmatchedContact, match)
	}
	return p.deliverPrivate(ctx, draft, match)
}

func (p *Processor) newDraft(ctx context.Context, merchantID uint, payload Payload, rawBody []byte) receipts.Draft {
	d := receipts.Draft{
		MerchantID:    merchantID,
		MerchantName:  p.merchantName(ctx, merchantID),
		TransactionID: payload.TransactionID,
		TransactionAt: payload.TransactionAt,
		TotalAmount:   payload.TotalAmount,
		Currency:      payload.Currency,
		RawPayload:    string(rawBody),
		Metadata:      payload.MetadataMap(),
	}
	for _, item := range payload.Items {
		d.Items = append(d.Items, receipts.ItemDraft{
			Description:      item.Description,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			Amount:           item.TotalPrice,
			MerchantCategory: item.Category,
		})
	}
	return d
}

func (p *Processor) merchantName(ctx context.Context, merchantID uint) string {
	if p.merchants != nil {
		if name := p.merchants.DisplayName(ctx, merchantID); name != "" {
			return name
		}
	}
	return fmt.Sprintf("Merchant #%d", merchantID)
}

// publish writes an unowned receipt. Categorization and loyalty wait for
// the claim.
func (p *Processor) publish(ctx context.Context, d receipts.Draft, message string, match identity.MatchResult) Result {
	receipt, err := p.materializer.CreatePublic(ctx, d)
	if receipt == nil {
		return failure(d.TransactionID, err)
	}
	p.archive(ctx, d, receipt)

	result := p.receiptResult(ctx, d.TransactionID, receipt)
	result.MatchConfidence = match.Confidence
	if err != nil {
		return partial(result, err)
	}
	result.Success = true
	result.Message = message
	return result
}

func (p *Processor) deliverPrivate(ctx context.Context, d receipts.Draft, match identity.MatchResult) Result {
	p.categorize(ctx, &d)

	receipt, err := p.materializer.CreatePrivate(ctx, d, match.UserID)
	if receipt == nil {
		result := failure(d.TransactionID, err)
		result.applyMatch(match)
		return result
	}
	p.archive(ctx, d, receipt)

	result := p.receiptResult(ctx, d.TransactionID, receipt)
	result.applyMatch(match)
	if err != nil {
		return partial(result, err)
	}

	if award := p.enricher.AwardForReceipt(ctx, match.UserID, receipt); award != nil && award.Success {
		points := award.PointsAwarded
		result.LoyaltyPoints = &points
	}
	result.Success = true
	result.Message = MessagePrivate
	return result
}

// resume answers a repeated transaction with the receipt already written.
// A receipt left without its expense by an earlier partial failure is
// completed first.
func (p *Processor) resume(ctx context.Context, receipt *models.Receipt, d receipts.Draft) Result {
	result := p.receiptResult(ctx, d.TransactionID, receipt)
	result.Duplicate = true
	result.MatchedUserID = receipt.OwnerID

	if receipt.Expense == nil {
		log.Infof("[Webhook] Completing receipt %s left without expense for tx %s", receipt.ID, d.TransactionID)
		if !receipt.IsPublic {
			p.categorize(ctx, &d)
		}
		expense, err := p.materializer.AttachExpense(ctx, receipt, d)
		if err != nil {
			return partial(result, err)
		}
		result.ExpenseID = expense.ID
		if receipt.OwnerID != nil {
			if award := p.enricher.AwardForReceipt(ctx, *receipt.OwnerID, receipt); award != nil && award.Success {
				points := award.PointsAwarded
				result.LoyaltyPoints = &points
			}
		}
	}

	result.Success = true
	result.Message = MessageDuplicate
	return result
}

func (p *Processor) categorize(ctx context.Context, d *receipts.Draft) {
	for i := range d.Items {
		item := &d.Items[i]
		item.Category = p.enricher.SuggestCategory(ctx, item.Description, d.MerchantName, item.Amount)
	}
}

func (p *Processor) archive(ctx context.Context, d receipts.Draft, receipt *models.Receipt) {
	if p.archiver == nil || d.RawPayload == "" {
		return
	}
	key, err := p.archiver.Store(ctx, d.MerchantID, receipt.ID, []byte(d.RawPayload))
	if err != nil {
		log.Warnf("[Webhook] Failed to archive payload of receipt %s: %v", receipt.ID, err)
		return
	}
	if err := p.materializer.RecordArchiveKey(ctx, receipt.ID, key); err != nil {
		log.Warnf("[Webhook] Failed to record archive key of receipt %s: %v", receipt.ID, err)
	}
}

func (p *Processor) receiptResult(ctx context.Context, transactionID string, receipt *models.Receipt) Result {
	result := Result{
		TransactionID: transactionID,
		ReceiptID:     receipt.ID,
	}
	if receipt.Expense != nil {
		result.ExpenseID = receipt.Expense.ID
	}
	if receipt.IsPublic {
		result.IsPublicReceipt = true
		result.PublicURL = receipt.PublicURL
		result.ExpiresAt = receipt.ExpiresAt
		if p.codec != nil {
			code, err := p.codec.Encode(receipt.ID)
			if err != nil {
				log.Warnf("[Webhook] Failed to encode claim code for receipt %s: %v", receipt.ID, err)
			} else {
				result.ClaimCode = code
			}
		}
	}
	return result
}

func (r *Result) applyMatch(match identity.MatchResult) {
	if !match.Matched {
		return
	}
	userID := match.UserID
	r.MatchedUserID = &userID
	r.MatchMethod = match.Method
	r.MatchConfidence = match.Confidence
}

func failure(transactionID string, err error) Result {
	return Result{
		Success:       false,
		TransactionID: transactionID,
		Message:       apperr.MessageOf(err),
		ErrorKind:     apperr.KindOf(err),
		err:           err,
	}
}

func partial(result Result, err error) Result {
	result.Success = false
	result.Message = apperr.MessageOf(err)
	result.ErrorKind = apperr.KindOf(err)
	result.err = err
	if id := apperr.ReceiptIDOf(err); id != "" {
		result.ReceiptID = id
	}
	return result
}

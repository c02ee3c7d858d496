package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/enrichment"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/identity"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/ledger"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/receipts"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubCategorizer map[string]enrichment.Suggestion

func (s stubCategorizer) Categorize(_ context.Context, description, _ string, _ decimal.Decimal) (enrichment.Suggestion, error) {
	return s[description], nil
}

type stubLoyalty struct {
	awards []enrichment.Award
	err    error
}

func (s *stubLoyalty) AwardPoints(_ context.Context, award enrichment.Award) (enrichment.LoyaltyResult, error) {
	s.awards = append(s.awards, award)
	if s.err != nil {
		return enrichment.LoyaltyResult{}, s.err
	}
	return enrichment.LoyaltyResult{Success: true, PointsAwarded: 15}, nil
}

type panickingDirectory struct{}

func (panickingDirectory) DisplayName(context.Context, uint) string {
	panic("directory exploded")
}

type staticDirectory string

func (d staticDirectory) DisplayName(context.Context, uint) string {
	return string(d)
}

type fixture struct {
	store     *memstore.Store
	processor *Processor
	loyalty   *stubLoyalty
	codec     *receipts.ClaimCodec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	repos := store.Repositories()
	urls, err := receipts.NewPublicURLBuilder("https://receipts.example.com")
	require.NoError(t, err)
	clock := func() time.Time { return fixedNow }

	loyalty := &stubLoyalty{}
	enricher := enrichment.NewEnricher(repos.Category).
		WithCategorizer(stubCategorizer{
			"Bread":  {Category: "groceries", Confidence: 0.92},
			"Coffee": {Category: "Dining", Confidence: 0.4},
		}).
		WithLoyalty(loyalty)
	codec := receipts.NewClaimCodec("test-secret", urls)

	p := NewProcessor(
		ledger.New(repos.DeliveryLog).WithClock(clock),
		identity.NewMatcher(repos.User, repos.PaymentFingerprint),
		receipts.NewMaterializer(repos.Receipt, repos.Expense, urls).WithClock(clock),
		enricher,
		codec,
	).WithMerchantDirectory(staticDirectory("Corner Shop")).WithClock(clock)

	return &fixture{store: store, processor: p, loyalty: loyalty, codec: codec}
}

func samplePayload(txID string) Payload {
	return Payload{
		TransactionID: txID,
		TotalAmount:   decimal.NewFromInt(100),
		Currency:      "TRY",
		TransactionAt: fixedNow.Add(-5 * time.Minute),
		Items: []LineItem{
			{Description: "Bread", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(20), TotalPrice: decimal.NewFromInt(40)},
			{Description: "Coffee", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(60), TotalPrice: decimal.NewFromInt(60)},
		},
		Metadata: &Metadata{PaymentMethod: "card", ReceiptNumber: "R-77"},
	}
}

func (f *fixture) receipt(t *testing.T, id string) *models.Receipt {
	t.Helper()
	r, err := f.store.Repositories().Receipt.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (f *fixture) onlyLog(t *testing.T) models.WebhookDeliveryLog {
	t.Helper()
	logs := f.store.Logs()
	require.Len(t, logs, 1)
	return logs[0]
}

func TestPublicReceiptWithoutContact(t *testing.T) {
	f := newFixture(t)

	res := f.processor.Process(context.Background(), 1, samplePayload("TXN-1"), nil)

	require.True(t, res.Success, res.Message)
	assert.True(t, res.IsPublicReceipt)
	assert.Nil(t, res.MatchedUserID)
	assert.Equal(t, "TXN-1", res.TransactionID)
	assert.Equal(t, MessageNoContact, res.Message)
	assert.Equal(t, "https://receipts.example.com/receipts/public/"+res.ReceiptID, res.PublicURL)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, fixedNow.Add(48*time.Hour), *res.ExpiresAt)
	assert.NotEmpty(t, res.ExpenseID)

	decoded, err := f.codec.Decode(res.ClaimCode)
	require.NoError(t, err)
	assert.Equal(t, res.ReceiptID, decoded)

	stored := f.receipt(t, res.ReceiptID)
	assert.Nil(t, stored.OwnerID)
	assert.True(t, stored.OwnershipConsistent())
	assert.Equal(t, "Corner Shop", stored.MerchantName)
	for _, item := range stored.Expense.Items {
		assert.False(t, item.IsCategorized(), "public items wait for the claim")
	}
	assert.Empty(t, f.loyalty.awards)

	entry := f.onlyLog(t)
	assert.Equal(t, models.DeliveryStatusSuccess, entry.Status)
	assert.Equal(t, MessageNoContact, entry.Message)
	assert.Equal(t, res.ReceiptID, entry.ReceiptID)
	require.NotNil(t, entry.DurationMs)
	assert.GreaterOrEqual(t, *entry.DurationMs, int64(0))
}

func TestPrivateReceiptForEmailMatch(t *testing.T) {
	f := newFixture(t)
	user := f.store.AddUser("Ada", "ada@example.com")

	payload := samplePayload("TXN-2")
	payload.Customer = &CustomerInfo{Email: "  ADA@Example.com "}

	res := f.processor.Process(context.Background(), 1, payload, nil)

	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.MatchedUserID)
	assert.Equal(t, user.ID, *res.MatchedUserID)
	assert.Equal(t, identity.MethodEmail, res.MatchMethod)
	assert.Equal(t, 1.0, res.MatchConfidence)
	assert.False(t, res.IsPublicReceipt)
	assert.Empty(t, res.PublicURL)
	assert.Empty(t, res.ClaimCode)
	assert.NotEmpty(t, res.ExpenseID)

	stored := f.receipt(t, res.ReceiptID)
	require.NotNil(t, stored.OwnerID)
	assert.Equal(t, user.ID, *stored.OwnerID)
	assert.Nil(t, stored.ExpiresAt)
	require.NotNil(t, stored.Expense)
	require.NotNil(t, stored.Expense.OwnerID)
	assert.Equal(t, user.ID, *stored.Expense.OwnerID)
	require.Len(t, stored.Expense.Items, 2)
	for _, item := range stored.Expense.Items {
		require.NotNil(t, item.OwnerID)
		assert.Equal(t, user.ID, *item.OwnerID)
	}
	assert.Equal(t, "Groceries", stored.Expense.Items[0].CategoryName())
	assert.False(t, stored.Expense.Items[1].IsCategorized(), "0.4 is below the floor")

	require.Len(t, f.loyalty.awards, 1)
	assert.Equal(t, "Groceries", f.loyalty.awards[0].Category)
	require.NotNil(t, res.LoyaltyPoints)
	assert.Equal(t, 15, *res.LoyaltyPoints)
}

func TestCardHashMatch(t *testing.T) {
	f := newFixture(t)
	user := f.store.AddUser("Bob", "bob@example.com")
	hash := models.HashCardNumber("4111 1111 1111 1111")
	f.store.AddCard(user.ID, hash)

	payload := samplePayload("TXN-3")
	payload.Customer = &CustomerInfo{Email: "someone-else@example.com", CardHash: strings.ToUpper(hash), LastFour: "1111"}

	res := f.processor.Process(context.Background(), 1, payload, nil)

	require.True(t, res.Success)
	require.NotNil(t, res.MatchedUserID)
	assert.Equal(t, user.ID, *res.MatchedUserID)
	assert.Equal(t, identity.MethodCardHash, res.MatchMethod)
}

func TestUnmatchedContactIsDistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	anonymous := f.processor.Process(ctx, 1, samplePayload("TXN-A"), nil)

	payload := samplePayload("TXN-B")
	payload.Customer = &CustomerInfo{Email: "stranger@example.com"}
	unmatched := f.processor.Process(ctx, 1, payload, nil)

	require.True(t, anonymous.Success)
	require.True(t, unmatched.Success)
	assert.True(t, unmatched.IsPublicReceipt)
	assert.Nil(t, unmatched.MatchedUserID)
	assert.Nil(t, f.receipt(t, unmatched.ReceiptID).OwnerID)
	assert.Equal(t, MessageUnmatchedContact, unmatched.Message)
	assert.NotEqual(t, anonymous.Message, unmatched.Message)

	messages := map[string]string{}
	for _, entry := range f.store.Logs() {
		messages[entry.TransactionID] = entry.Message
	}
	assert.NotEqual(t, messages["TXN-A"], messages["TXN-B"])
}

func TestLastFourAloneIsNoContact(t *testing.T) {
	f := newFixture(t)
	payload := samplePayload("TXN-4")
	payload.Customer = &CustomerInfo{LastFour: "4242", CardType: "visa"}

	res := f.processor.Process(context.Background(), 1, payload, nil)

	require.True(t, res.Success)
	assert.Equal(t, MessageNoContact, res.Message)
}

func TestValidationRejectsBeforeWrite(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Payload)
		want   string
	}{
		{name: "currency", mutate: func(p *Payload) { p.Currency = "JPY" }, want: "currency"},
		{name: "no items", mutate: func(p *Payload) { p.Items = nil }, want: "items"},
		{name: "zero total", mutate: func(p *Payload) { p.TotalAmount = decimal.Zero }, want: "total_amount"},
		{name: "missing transaction id", mutate: func(p *Payload) { p.TransactionID = "" }, want: "transaction_id"},
		{name: "bad email", mutate: func(p *Payload) { p.Customer = &CustomerInfo{Email: "nope"} }, want: "customer.email"},
		{name: "short card hash", mutate: func(p *Payload) { p.Customer = &CustomerInfo{CardHash: "abc"} }, want: "card_hash"},
		{name: "zero quantity", mutate: func(p *Payload) { p.Items[0].Quantity = decimal.Zero }, want: "items[0].quantity"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			payload := samplePayload("TXN-V")
			tc.mutate(&payload)

			res := f.processor.Process(context.Background(), 1, payload, nil)

			assert.False(t, res.Success)
			assert.Equal(t, apperr.KindValidation, res.ErrorKind)
			assert.Equal(t, 400, res.HTTPStatus())
			assert.Contains(t, res.Message, tc.want)
			assert.Zero(t, f.store.ReceiptCount())
			assert.Equal(t, models.DeliveryStatusFailed, f.onlyLog(t).Status)
		})
	}
}

func TestPartialFailureCarriesReceiptID(t *testing.T) {
	f := newFixture(t)
	f.store.FailExpenseCreate = errors.New("deadlock")

	res := f.processor.Process(context.Background(), 1, samplePayload("TXN-P"), nil)

	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindPartialFailure, res.ErrorKind)
	assert.Equal(t, 207, res.HTTPStatus())
	require.NotEmpty(t, res.ReceiptID)
	assert.Empty(t, res.ExpenseID)
	assert.Equal(t, 1, f.store.ReceiptCount())

	entry := f.onlyLog(t)
	assert.Equal(t, models.DeliveryStatusFailed, entry.Status)
	assert.Equal(t, res.ReceiptID, entry.ReceiptID)
	assert.Contains(t, entry.ErrorText, "deadlock")
	assert.Equal(t, 207, entry.ResponseCode)
}

func TestReceiptWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailReceiptCreate = errors.New("disk full")

	res := f.processor.Process(context.Background(), 1, samplePayload("TXN-F"), nil)

	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindInternal, res.ErrorKind)
	assert.Empty(t, res.ReceiptID)
	assert.Equal(t, models.DeliveryStatusFailed, f.onlyLog(t).Status)
}

func TestPanicIsFinalizedAsFailed(t *testing.T) {
	f := newFixture(t)
	f.processor.WithMerchantDirectory(panickingDirectory{})

	var res Result
	require.NotPanics(t, func() {
		res = f.processor.Process(context.Background(), 1, samplePayload("TXN-X"), nil)
	})

	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindInternal, res.ErrorKind)
	assert.Equal(t, "TXN-X", res.TransactionID)
	entry := f.onlyLog(t)
	assert.Equal(t, models.DeliveryStatusFailed, entry.Status)
	assert.Contains(t, entry.ErrorText, "directory exploded")
	require.NotNil(t, entry.DurationMs)
}

func TestLoyaltyFailureDoesNotFailDelivery(t *testing.T) {
	f := newFixture(t)
	f.loyalty.err = errors.New("loyalty down")
	f.store.AddUser("Ada", "ada@example.com")
	payload := samplePayload("TXN-L")
	payload.Customer = &CustomerInfo{Email: "ada@example.com"}

	res := f.processor.Process(context.Background(), 1, payload, nil)

	assert.True(t, res.Success)
	assert.Nil(t, res.LoyaltyPoints)
	assert.Equal(t, models.DeliveryStatusSuccess, f.onlyLog(t).Status)
}

func TestProcessRawRecordsUndecodableBody(t *testing.T) {
	f := newFixture(t)

	res := f.processor.ProcessRaw(context.Background(), 1, []byte(`{"transaction_id":"TXN-J","total_amount":`))

	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindValidation, res.ErrorKind)
	entry := f.onlyLog(t)
	assert.Equal(t, models.DeliveryStatusFailed, entry.Status)
	assert.Equal(t, 400, entry.ResponseCode)
}

func TestProcessRawDecodesBody(t *testing.T) {
	f := newFixture(t)
	body, err := json.Marshal(samplePayload("TXN-R"))
	require.NoError(t, err)

	res := f.processor.ProcessRaw(context.Background(), 1, body)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, string(body), f.receipt(t, res.ReceiptID).RawPayload)
}

func TestLedgerOutageDoesNotBlockProcessing(t *testing.T) {
	f := newFixture(t)
	f.store.FailDeliveryCreate = errors.New("ledger table locked")

	res := f.processor.Process(context.Background(), 1, samplePayload("TXN-O"), nil)

	assert.True(t, res.Success)
	assert.True(t, ledger.IsLocalID(res.DeliveryID))
	assert.Empty(t, f.store.Logs())
}

func TestDuplicateReturnsExistingReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.processor.Process(ctx, 1, samplePayload("TXN-D"), nil)
	second := f.processor.Process(ctx, 1, samplePayload("TXN-D"), nil)

	require.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.Equal(t, first.ExpenseID, second.ExpenseID)
	assert.Equal(t, 1, f.store.ReceiptCount())
	assert.Len(t, f.store.Logs(), 2)
}

func TestReplayCompletesPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.FailExpenseCreate = errors.New("deadlock")

	failed := f.processor.Process(ctx, 1, samplePayload("TXN-RP"), nil)
	require.Equal(t, apperr.KindPartialFailure, failed.ErrorKind)

	f.store.FailExpenseCreate = nil
	res, err := f.processor.Replay(ctx, failed.DeliveryID)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Duplicate)
	assert.Equal(t, failed.ReceiptID, res.ReceiptID)
	assert.NotEmpty(t, res.ExpenseID)
	assert.Equal(t, 1, f.store.ReceiptCount())

	entry := f.onlyLog(t)
	assert.Equal(t, models.DeliveryStatusSuccess, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
	require.NotNil(t, f.receipt(t, failed.ReceiptID).Expense)
}

func TestReplayRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok := f.processor.Process(ctx, 1, samplePayload("TXN-OK"), nil)
	require.True(t, ok.Success)

	_, err := f.processor.Replay(ctx, ok.DeliveryID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.processor.Replay(ctx, "8d7e2b4e-0000-4000-8000-000000000000")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReplayCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := samplePayload("TXN-C")
	payload.Currency = "JPY"

	res := f.processor.Process(ctx, 1, payload, nil)
	require.False(t, res.Success)

	for i := 0; i < ledger.MaxRetries; i++ {
		replayed, err := f.processor.Replay(ctx, res.DeliveryID)
		require.NoError(t, err)
		assert.False(t, replayed.Success)
	}

	_, err := f.processor.Replay(ctx, res.DeliveryID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, ledger.MaxRetries, f.onlyLog(t).RetryCount)
}

type recordedOutcomes []string

func (r *recordedOutcomes) RecordOutcome(_ context.Context, merchantID uint, outcome string) {
	*r = append(*r, outcome)
}

func TestOutcomesAreCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var outcomes recordedOutcomes
	f.processor.WithOutcomeRecorder(&outcomes)
	f.store.AddUser("Ada", "ada@example.com")

	private := samplePayload("TXN-O1")
	private.Customer = &CustomerInfo{Email: "ada@example.com"}
	invalid := samplePayload("TXN-O3")
	invalid.Items = nil

	f.processor.Process(ctx, 1, private, nil)
	f.processor.Process(ctx, 1, samplePayload("TXN-O2"), nil)
	f.processor.Process(ctx, 1, samplePayload("TXN-O2"), nil)
	f.processor.Process(ctx, 1, invalid, nil)

	assert.Equal(t, recordedOutcomes{"private", "public", "duplicate", "validation"}, outcomes)
}

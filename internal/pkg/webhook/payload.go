package webhook

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/identity"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// SupportedCurrencies is the currency allow-list for inbound transactions.
var SupportedCurrencies = []string{"TRY", "USD", "EUR", "GBP"}

// Payload is the body a merchant POS posts for one transaction.
type Payload struct {
	TransactionID string          `json:"transaction_id" validate:"required,max=191"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency" validate:"required,oneof=TRY USD EUR GBP"`
	TransactionAt time.Time       `json:"transaction_at"`
	Customer      *CustomerInfo   `json:"customer,omitempty"`
	Items         []LineItem      `json:"items" validate:"required,min=1,max=500,dive"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

type CustomerInfo struct {
	Email    string `json:"email,omitempty" validate:"omitempty,email,max=200"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,max=32"`
	CardHash string `json:"card_hash,omitempty" validate:"omitempty,hexadecimal,len=64"`
	LastFour string `json:"last_four,omitempty" validate:"omitempty,len=4,numeric"`
	CardType string `json:"card_type,omitempty" validate:"omitempty,max=30"`
}

type LineItem struct {
	Description string          `json:"description" validate:"required,max=255"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Category    string          `json:"category,omitempty" validate:"omitempty,max=100"`
}

type Metadata struct {
	PaymentMethod string            `json:"payment_method,omitempty" validate:"omitempty,max=50"`
	ReceiptNumber string            `json:"receipt_number,omitempty" validate:"omitempty,max=100"`
	CashierID     string            `json:"cashier_id,omitempty" validate:"omitempty,max=100"`
	Location      string            `json:"location,omitempty" validate:"omitempty,max=200"`
	Extra         map[string]string `json:"extra,omitempty" validate:"omitempty,max=50"`
}

// Contact returns the identity fragments of the customer block.
func (p *Payload) Contact() identity.Contact {
	if p.Customer == nil {
		return identity.Contact{}
	}
	return identity.Contact{
		Email:    p.Customer.Email,
		Phone:    p.Customer.Phone,
		CardHash: p.Customer.CardHash,
		LastFour: p.Customer.LastFour,
		CardType: p.Customer.CardType,
	}
}

// MetadataMap flattens the optional metadata block for storage.
func (p *Payload) MetadataMap() map[string]interface{} {
	if p.Metadata == nil {
		return nil
	}
	m := map[string]interface{}{}
	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	set("payment_method", p.Metadata.PaymentMethod)
	set("receipt_number", p.Metadata.ReceiptNumber)
	set("cashier_id", p.Metadata.CashierID)
	set("location", p.Metadata.Location)
	if p.Customer != nil {
		set("card_last_four", p.Customer.LastFour)
		set("card_type", p.Customer.CardType)
	}
	if len(p.Metadata.Extra) > 0 {
		extra := make(map[string]interface{}, len(p.Metadata.Extra))
		for k, v := range p.Metadata.Extra {
			extra[k] = v
		}
		m["extra"] = extra
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// newValidator reports field errors with their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the payload before anything is written.
func (p *Payload) Validate(v *validator.Validate) error {
	var problems []string
	if err := v.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if ok := asValidationErrors(err, &fieldErrs); !ok {
			return apperr.Wrap(apperr.KindValidation, "payload validation failed", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	if !p.TotalAmount.IsPositive() {
		problems = append(problems, "total_amount must be greater than 0")
	}
	if p.TransactionAt.IsZero() {
		problems = append(problems, "transaction_at is required")
	}
	for i, item := range p.Items {
		if !item.Quantity.IsPositive() {
			problems = append(problems, fmt.Sprintf("items[%d].quantity must be greater than 0", i))
		}
		if item.UnitPrice.IsNegative() {
			problems = append(problems, fmt.Sprintf("items[%d].unit_price must not be negative", i))
		}
		if item.TotalPrice.IsNegative() {
			problems = append(problems, fmt.Sprintf("items[%d].total_price must not be negative", i))
		}
	}

	if len(problems) > 0 {
		return apperr.New(apperr.KindValidation, strings.Join(problems, "; "))
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = fieldErrs
	}
	return ok
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Payload.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.Join(SupportedCurrencies, ", "))
	case "email":
		return field + " must be a valid email address"
	case "len", "hexadecimal", "numeric":
		return fmt.Sprintf("%s is malformed (%s=%s)", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

// peekTransactionID reads the transaction id of a body that may not be
// valid, so even rejected deliveries can be filed under it.
func peekTransactionID(body []byte) string {
	var probe struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	if len(probe.TransactionID) > 191 {
		return probe.TransactionID[:191]
	}
	return probe.TransactionID
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := New(KindGone, "receipt expired")
	wrapped := fmt.Errorf("claim: %w", base)

	assert.Equal(t, KindGone, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindGone))
	assert.Equal(t, "receipt expired", MessageOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.False(t, Is(nil, KindInternal))
}

func TestPartialCarriesReceiptID(t *testing.T) {
	cause := errors.New("deadlock")
	err := Partial("rcpt-1", "expense write failed", cause)

	assert.Equal(t, KindPartialFailure, KindOf(err))
	assert.Equal(t, "rcpt-1", ReceiptIDOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{kind: "", want: http.StatusOK},
		{kind: KindValidation, want: http.StatusBadRequest},
		{kind: KindUnauthorized, want: http.StatusUnauthorized},
		{kind: KindNotFound, want: http.StatusNotFound},
		{kind: KindForbidden, want: http.StatusForbidden},
		{kind: KindGone, want: http.StatusGone},
		{kind: KindConflict, want: http.StatusConflict},
		{kind: KindPartialFailure, want: http.StatusInternalServerError},
		{kind: KindInternal, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Fatalf("HTTPStatus(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

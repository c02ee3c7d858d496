package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReceiptClaimability(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)
	owner := uint(5)

	tests := []struct {
		name      string
		receipt   Receipt
		claimable bool
		expired   bool
	}{
		{name: "public without expiry", receipt: Receipt{IsPublic: true}, claimable: true},
		{name: "public before expiry", receipt: Receipt{IsPublic: true, ExpiresAt: &future}, claimable: true},
		{name: "public after expiry", receipt: Receipt{IsPublic: true, ExpiresAt: &past}, expired: true},
		{name: "expiry exactly now", receipt: Receipt{IsPublic: true, ExpiresAt: &now}, expired: true},
		{name: "owned", receipt: Receipt{OwnerID: &owner}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.claimable, tc.receipt.IsClaimable(now))
			assert.Equal(t, tc.expired, tc.receipt.IsExpired(now))
		})
	}
}

func TestReceiptAssignOwnerKeepsInvariant(t *testing.T) {
	expires := time.Now().Add(PublicReceiptTTL)
	r := &Receipt{
		ID:        "r-1",
		IsPublic:  true,
		ExpiresAt: &expires,
		Source:    ReceiptSourcePublicWebhook,
		Expense: &Expense{
			Items: []ExpenseItem{{Description: "tea"}, {Description: "bread"}},
		},
	}
	assert.True(t, r.OwnershipConsistent())

	r.AssignOwner(42, time.Now())

	assert.True(t, r.IsOwnedBy(42))
	assert.False(t, r.IsPublic)
	assert.Nil(t, r.ExpiresAt)
	assert.Equal(t, ReceiptSourceScanClaimed, r.Source)
	assert.True(t, r.OwnershipConsistent())
	for _, item := range r.Expense.Items {
		assert.Equal(t, uint(42), *item.OwnerID)
	}
}

func TestReceiptOwnershipConsistentDetectsDrift(t *testing.T) {
	owner := uint(1)
	other := uint(2)

	assert.False(t, (&Receipt{IsPublic: true, OwnerID: &owner}).OwnershipConsistent())
	assert.False(t, (&Receipt{IsPublic: false}).OwnershipConsistent())
	assert.False(t, (&Receipt{OwnerID: &owner, Expense: &Expense{OwnerID: &other}}).OwnershipConsistent())
	assert.False(t, (&Receipt{
		OwnerID: &owner,
		Expense: &Expense{OwnerID: &owner, Items: []ExpenseItem{{}}},
	}).OwnershipConsistent())
}

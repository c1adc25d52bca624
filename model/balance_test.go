package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailable(t *testing.T) {
	b := AccountBalance{CreditsPosted: 1000, DebitsPosted: 300, DebitsPending: 200}
	assert.Equal(t, uint64(500), b.Available())

	assert.True(t, b.CanDebit(500))
	assert.False(t, b.CanDebit(501))

	// Pending credits never count toward what can be given up.
	b.CreditsPending = 10_000
	assert.Equal(t, uint64(500), b.Available())
}

func TestAvailableFlooredAtZero(t *testing.T) {
	b := AccountBalance{CreditsPosted: 100, DebitsPosted: 100, DebitsPending: 50}
	assert.Equal(t, uint64(0), b.Available())
	assert.False(t, b.CanDebit(1))
}

func TestSettlementCapacity(t *testing.T) {
	b := AccountBalance{DebitsPosted: 1000, CreditsPosted: 400, CreditsPending: 100}
	assert.Equal(t, uint64(500), b.SettlementCapacity())

	assert.True(t, b.CanCreditSettlement(500))
	assert.False(t, b.CanCreditSettlement(501))

	b = AccountBalance{DebitsPosted: 100, CreditsPosted: 200}
	assert.Equal(t, uint64(0), b.SettlementCapacity())
}

func TestApplyDeltas(t *testing.T) {
	b := AccountBalance{CreditsPosted: 1000}

	b.ApplyDebit(100, false)
	b.ApplyDebit(50, true)
	b.ApplyCredit(30, false)
	b.ApplyCredit(20, true)

	assert.Equal(t, uint64(100), b.DebitsPosted)
	assert.Equal(t, uint64(50), b.DebitsPending)
	assert.Equal(t, uint64(1030), b.CreditsPosted)
	assert.Equal(t, uint64(20), b.CreditsPending)
	assert.Equal(t, uint64(880), b.Available())
}

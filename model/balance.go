package model

// AccountBalance is the derived view of an account: sums of transfer
// amounts where the account is the credit or debit side, restricted to
// POSTED transfers plus PENDING transfers that have not expired. It is
// never persisted.
type AccountBalance struct {
	AccountID      string `json:"account_id"`
	CreditsPosted  uint64 `json:"credits_posted"`
	CreditsPending uint64 `json:"credits_pending"`
	DebitsPosted   uint64 `json:"debits_posted"`
	DebitsPending  uint64 `json:"debits_pending"`
}

// Available returns creditsPosted - debitsPosted - debitsPending, the value
// the account can still give up. Floored at zero; a well-formed ledger
// never lets a non-settlement account go below it.
func (b *AccountBalance) Available() uint64 {
	v, ok := SubUint64(b.CreditsPosted, b.DebitsPosted)
	if !ok {
		return 0
	}
	v, ok = SubUint64(v, b.DebitsPending)
	if !ok {
		return 0
	}
	return v
}

// CanDebit reports whether the account already holds enough value to give
// up amount. Settlement accounts bypass this check.
func (b *AccountBalance) CanDebit(amount uint64) bool {
	return b.Available() >= amount
}

// SettlementCapacity returns debitsPosted - creditsPosted - creditsPending:
// how much a settlement account may still be credited, i.e. how much value
// may leave the system through it without exceeding what previously entered.
func (b *AccountBalance) SettlementCapacity() uint64 {
	v, ok := SubUint64(b.DebitsPosted, b.CreditsPosted)
	if !ok {
		return 0
	}
	v, ok = SubUint64(v, b.CreditsPending)
	if !ok {
		return 0
	}
	return v
}

// CanCreditSettlement reports whether crediting amount keeps the settlement
// account within debitsPosted >= creditsPosted + creditsPending + amount.
func (b *AccountBalance) CanCreditSettlement(amount uint64) bool {
	return b.SettlementCapacity() >= amount
}

// ApplyDebit records an accepted in-batch debit so later items in the same
// batch validate against the balance they will actually commit on top of.
func (b *AccountBalance) ApplyDebit(amount uint64, pending bool) {
	if pending {
		b.DebitsPending, _ = AddUint64(b.DebitsPending, amount)
		return
	}
	b.DebitsPosted, _ = AddUint64(b.DebitsPosted, amount)
}

// ApplyCredit records an accepted in-batch credit.
func (b *AccountBalance) ApplyCredit(amount uint64, pending bool) {
	if pending {
		b.CreditsPending, _ = AddUint64(b.CreditsPending, amount)
		return
	}
	b.CreditsPosted, _ = AddUint64(b.CreditsPosted, amount)
}

package model

import (
	"encoding/json"
	"time"
)

type TransferState string

const (
	StatePending TransferState = "PENDING"
	StatePosted  TransferState = "POSTED"
	StateVoided  TransferState = "VOIDED"
)

type TransferKind string

const (
	KindDeposit    TransferKind = "DEPOSIT"
	KindWithdrawal TransferKind = "WITHDRAWAL"
	KindTransfer   TransferKind = "TRANSFER"
)

// LedgerTransfer is one immutable fund movement between two accounts on the
// same ledger. A transfer created with a timeout starts PENDING and
// transitions exactly once, to POSTED or VOIDED; otherwise it is POSTED on
// creation.
type LedgerTransfer struct {
	ID              int64                  `json:"-"`
	TransferID      string                 `json:"transfer_id"`
	TransferRef     string                 `json:"transfer_ref"`
	DebitAccountID  string                 `json:"debit_account_id"`
	CreditAccountID string                 `json:"credit_account_id"`
	Ledger          uint32                 `json:"ledger"`
	Amount          uint64                 `json:"amount"`
	State           TransferState          `json:"state"`
	Kind            TransferKind           `json:"kind"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

// Expired reports whether the transfer is a PENDING reservation whose
// expiry has passed. Expired transfers no longer count toward balances and
// can no longer be posted, only voided.
func (t *LedgerTransfer) Expired(now time.Time) bool {
	return t.State == StatePending && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

func (t *LedgerTransfer) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// CreateTransferArgs describes one transfer in a batch handed to a backend.
// Accounts are resolved by the directory before the batch is built; a nil
// account marks an unresolved side.
type CreateTransferArgs struct {
	TransferRef   string
	DebitAccount  *LedgerAccount
	CreditAccount *LedgerAccount
	Amount        uint64
	Timeout       time.Duration
	Kind          TransferKind
}

// Pending reports whether the transfer will be created as a reservation.
func (a *CreateTransferArgs) Pending() bool {
	return a.Timeout > 0
}

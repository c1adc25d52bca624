/*
Copyright 2025 Tally Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ledger defines the capability contract a transfer backend must
// satisfy. Two implementations exist: the relational store in package
// database and the TigerBeetle client in package tigerbeetle. Callers
// depend only on this interface; which backend runs is a startup decision.
package ledger

import (
	"context"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

// Backend persists transfers and derives balances. A conforming backend
// provides transactional batch insert with uniqueness on the transfer
// reference, exclusive single-transfer locking for state transitions, and
// per-account aggregation by side and effective state.
type Backend interface {
	// CreateAccounts provisions balance-holding state for directory
	// accounts. Re-provisioning an existing account is not an error.
	CreateAccounts(ctx context.Context, accounts []*model.LedgerAccount) error

	// CreateTransfers validates and persists a batch atomically. When any
	// item fails, nothing is persisted and every failing item is reported
	// with its index; a whole-batch storage failure is a single error at
	// index -1.
	CreateTransfers(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError)

	// PostTransfer finalizes a pending transfer. VoidTransfer cancels one,
	// releasing its reservation. Both lock the single transfer exclusively
	// and re-validate its state before patching it.
	PostTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error)
	VoidTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error)

	GetTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error)

	GetAccountBalance(ctx context.Context, account *model.LedgerAccount) (*model.AccountBalance, error)
	GetAccountsBalances(ctx context.Context, accounts []*model.LedgerAccount) ([]*model.AccountBalance, error)
}

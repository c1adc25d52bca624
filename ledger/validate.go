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

package ledger

import (
	"fmt"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

// ValidateTransfer runs the backend-independent checks on one batch item,
// in order, and returns the first failure. Balance checks are left to the
// backend: the relational store computes aggregates inside its transaction
// and TigerBeetle enforces the same invariants through account flags.
func ValidateTransfer(args *model.CreateTransferArgs) *ledgererror.LedgerError {
	if !model.IsValidUUID(args.TransferRef) {
		err := ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("transfer reference %q is not a well-formed UUID", args.TransferRef), nil)
		return &err
	}
	if args.Amount == 0 || args.Amount > model.MaxTransferAmount {
		err := ledgererror.New(ledgererror.ErrInvalidAmount, "transfer amount must be a positive integer", nil)
		return &err
	}
	if args.Timeout < 0 {
		err := ledgererror.New(ledgererror.ErrInvalidTimeout, "transfer timeout must be positive", nil)
		return &err
	}
	if args.DebitAccount == nil {
		err := ledgererror.New(ledgererror.ErrUnknownSourceAccount, "debit account does not exist", nil)
		return &err
	}
	if args.CreditAccount == nil {
		err := ledgererror.New(ledgererror.ErrUnknownDestinationAccount, "credit account does not exist", nil)
		return &err
	}
	if args.DebitAccount.AccountID == args.CreditAccount.AccountID {
		err := ledgererror.New(ledgererror.ErrSameAccounts, "transfer debits and credits the same account", nil)
		return &err
	}
	if args.DebitAccount.Ledger != args.CreditAccount.Ledger {
		err := ledgererror.New(ledgererror.ErrDifferentAssets, "transfer accounts are denominated in different assets", nil)
		return &err
	}
	return nil
}

// ValidateBatch applies ValidateTransfer to every item without aborting
// early, collecting one error per failing index.
func ValidateBatch(batch []*model.CreateTransferArgs) []ledgererror.BatchError {
	var errs []ledgererror.BatchError
	for i, args := range batch {
		if err := ValidateTransfer(args); err != nil {
			errs = append(errs, ledgererror.BatchError{Index: i, Err: *err})
		}
	}
	return errs
}

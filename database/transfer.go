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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/ledger"
	"github.com/tallyfinance/tally/model"
)

// CreateAccounts satisfies the backend contract. The relational store keeps
// no per-account balance rows, so directory rows alone are sufficient.
func (d Datasource) CreateAccounts(ctx context.Context, accounts []*model.LedgerAccount) error {
	return nil
}

// CreateTransfers validates and persists a batch in one database
// transaction. Involved accounts are locked with advisory locks taken in
// account-id order, so concurrent batches touching the same accounts
// serialize without deadlocking. If any item fails, nothing is written.
func (d Datasource) CreateTransfers(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError) {
	ctx, span := otel.Tracer("ledger.postgres").Start(ctx, "Creating transfer batch")
	defer span.End()

	if len(batch) == 0 {
		return nil, nil
	}

	errs := ledger.ValidateBatch(batch)
	errs = append(errs, duplicateRefs(batch)...)
	failed := make(map[int]bool, len(errs))
	for _, e := range errs {
		failed[e.Index] = true
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wholeBatchError("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if len(failed) < len(batch) {
		if err := lockAccounts(ctx, tx, batch, failed); err != nil {
			return nil, wholeBatchError("failed to lock accounts", err)
		}

		balanceErrs, err := checkBalances(ctx, tx, batch, failed)
		if err != nil {
			return nil, wholeBatchError("failed to derive balances", err)
		}
		errs = append(errs, balanceErrs...)
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Index < errs[j].Index })
		return nil, errs
	}

	now := time.Now()
	transfers := make([]*model.LedgerTransfer, 0, len(batch))
	for i, args := range batch {
		transfer, err := insertTransfer(ctx, tx, args, now)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return nil, []ledgererror.BatchError{{
					Index: i,
					Err: ledgererror.New(ledgererror.ErrTransferExists,
						fmt.Sprintf("transfer with reference %q already exists", args.TransferRef), err),
				}}
			}
			return nil, wholeBatchError("failed to record transfer", err)
		}
		transfers = append(transfers, transfer)
	}

	if err := tx.Commit(); err != nil {
		return nil, wholeBatchError("failed to commit transfer batch", err)
	}
	return transfers, nil
}

func wholeBatchError(message string, err error) []ledgererror.BatchError {
	return []ledgererror.BatchError{{
		Index: -1,
		Err:   ledgererror.New(ledgererror.ErrUnknownError, message, err),
	}}
}

// duplicateRefs flags batch items that reuse an earlier item's reference.
// The database would catch them too, but one at a time.
func duplicateRefs(batch []*model.CreateTransferArgs) []ledgererror.BatchError {
	var errs []ledgererror.BatchError
	seen := make(map[string]bool, len(batch))
	for i, args := range batch {
		if seen[args.TransferRef] {
			errs = append(errs, ledgererror.BatchError{
				Index: i,
				Err: ledgererror.New(ledgererror.ErrTransferExists,
					fmt.Sprintf("transfer with reference %q already exists", args.TransferRef), nil),
			})
			continue
		}
		seen[args.TransferRef] = true
	}
	return errs
}

// lockAccounts takes one advisory lock per involved account, in account-id
// order. The locks release automatically when the transaction ends.
func lockAccounts(ctx context.Context, tx *sql.Tx, batch []*model.CreateTransferArgs, failed map[int]bool) error {
	distinct := make(map[string]bool)
	for i, args := range batch {
		if failed[i] {
			continue
		}
		distinct[args.DebitAccount.AccountID] = true
		distinct[args.CreditAccount.AccountID] = true
	}

	ids := make([]string, 0, len(distinct))
	for id := range distinct {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
			return err
		}
	}
	return nil
}

// checkBalances enforces source sufficiency and settlement capacity for
// every item that passed shape validation. Balances are read once per
// account under the locks, then advanced in memory so later items in the
// batch see the effect of earlier ones.
func checkBalances(ctx context.Context, tx *sql.Tx, batch []*model.CreateTransferArgs, failed map[int]bool) ([]ledgererror.BatchError, error) {
	balances := make(map[string]*model.AccountBalance)
	load := func(accountID string) (*model.AccountBalance, error) {
		if b, ok := balances[accountID]; ok {
			return b, nil
		}
		b, err := accountBalance(ctx, tx, accountID)
		if err != nil {
			return nil, err
		}
		balances[accountID] = b
		return b, nil
	}

	var errs []ledgererror.BatchError
	for i, args := range batch {
		if failed[i] {
			continue
		}

		debit, err := load(args.DebitAccount.AccountID)
		if err != nil {
			return nil, err
		}
		credit, err := load(args.CreditAccount.AccountID)
		if err != nil {
			return nil, err
		}

		if !args.DebitAccount.Kind.IsSettlement() && !debit.CanDebit(args.Amount) {
			errs = append(errs, ledgererror.BatchError{
				Index: i,
				Err: ledgererror.New(ledgererror.ErrInsufficientDebitBalance,
					fmt.Sprintf("account %s holds %d, cannot debit %d", args.DebitAccount.AccountID, debit.Available(), args.Amount), nil),
			})
			continue
		}
		if args.CreditAccount.Kind.IsSettlement() && !credit.CanCreditSettlement(args.Amount) {
			errs = append(errs, ledgererror.BatchError{
				Index: i,
				Err: ledgererror.New(ledgererror.ErrInsufficientBalance,
					fmt.Sprintf("settlement account %s has capacity %d, cannot receive %d", args.CreditAccount.AccountID, credit.SettlementCapacity(), args.Amount), nil),
			})
			continue
		}

		debit.ApplyDebit(args.Amount, args.Pending())
		credit.ApplyCredit(args.Amount, args.Pending())
	}
	return errs, nil
}

func insertTransfer(ctx context.Context, tx *sql.Tx, args *model.CreateTransferArgs, now time.Time) (*model.LedgerTransfer, error) {
	transfer := &model.LedgerTransfer{
		TransferID:      model.GenerateUUIDWithSuffix("trf"),
		TransferRef:     args.TransferRef,
		DebitAccountID:  args.DebitAccount.AccountID,
		CreditAccountID: args.CreditAccount.AccountID,
		Ledger:          args.DebitAccount.Ledger,
		Amount:          args.Amount,
		State:           model.StatePosted,
		Kind:            args.Kind,
		CreatedAt:       now,
	}
	if args.Pending() {
		transfer.State = model.StatePending
		expiresAt := now.Add(args.Timeout)
		transfer.ExpiresAt = &expiresAt
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO tally.transfers (transfer_id, transfer_ref, debit_account_id, credit_account_id, ledger, amount, state, kind, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, transfer.TransferID, transfer.TransferRef, transfer.DebitAccountID, transfer.CreditAccountID,
		int64(transfer.Ledger), int64(transfer.Amount), transfer.State, transfer.Kind, transfer.ExpiresAt, transfer.CreatedAt).Scan(&transfer.ID)
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// PostTransfer finalizes a pending reservation. The row is locked for the
// duration so a concurrent post or void of the same transfer waits and
// then fails the state re-check.
func (d Datasource) PostTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	ctx, span := otel.Tracer("ledger.postgres").Start(ctx, "Posting transfer")
	defer span.End()

	return d.settleTransfer(ctx, transferRef, model.StatePosted)
}

// VoidTransfer cancels a pending reservation, releasing the reserved
// value. An expired reservation can still be voided.
func (d Datasource) VoidTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	ctx, span := otel.Tracer("ledger.postgres").Start(ctx, "Voiding transfer")
	defer span.End()

	return d.settleTransfer(ctx, transferRef, model.StateVoided)
}

func (d Datasource) settleTransfer(ctx context.Context, transferRef string, target model.TransferState) (*model.LedgerTransfer, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	transfer, err := scanTransfer(tx.QueryRowContext(ctx, selectTransferQuery+` WHERE transfer_ref = $1 FOR UPDATE`, transferRef))
	if err != nil {
		return nil, err
	}

	switch transfer.State {
	case model.StatePosted:
		return nil, ledgererror.New(ledgererror.ErrAlreadyPosted,
			fmt.Sprintf("transfer %q was already posted", transferRef), nil)
	case model.StateVoided:
		return nil, ledgererror.New(ledgererror.ErrAlreadyVoided,
			fmt.Sprintf("transfer %q was already voided", transferRef), nil)
	}

	if target == model.StatePosted && transfer.Expired(time.Now()) {
		return nil, ledgererror.New(ledgererror.ErrTransferExpired,
			fmt.Sprintf("transfer %q expired and can only be voided", transferRef), nil)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tally.transfers
		SET state = $2
		WHERE transfer_ref = $1
	`, transferRef, target)
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to update transfer state", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to commit transfer state", err)
	}

	transfer.State = target
	return transfer, nil
}

const selectTransferQuery = `
	SELECT id, transfer_id, transfer_ref, debit_account_id, credit_account_id, ledger, amount, state, kind, expires_at, created_at
	FROM tally.transfers
`

func (d Datasource) GetTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	return scanTransfer(d.Conn.QueryRowContext(ctx, selectTransferQuery+` WHERE transfer_ref = $1`, transferRef))
}

func scanTransfer(row *sql.Row) (*model.LedgerTransfer, error) {
	transfer := model.LedgerTransfer{}
	var ledgerNum, amount int64
	var expiresAt sql.NullTime
	err := row.Scan(&transfer.ID, &transfer.TransferID, &transfer.TransferRef, &transfer.DebitAccountID,
		&transfer.CreditAccountID, &ledgerNum, &amount, &transfer.State, &transfer.Kind, &expiresAt, &transfer.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledgererror.New(ledgererror.ErrUnknownTransfer, "transfer not found", nil)
		}
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to retrieve transfer", err)
	}
	transfer.Ledger = uint32(ledgerNum)
	transfer.Amount = uint64(amount)
	if expiresAt.Valid {
		t := expiresAt.Time
		transfer.ExpiresAt = &t
	}
	return &transfer, nil
}

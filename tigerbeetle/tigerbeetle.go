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

// Package tigerbeetle implements the ledger backend on a TigerBeetle
// cluster. The account directory stays relational; only balances and
// transfers live here. TigerBeetle enforces the two balance invariants
// natively through account flags, and batch atomicity through linked
// event chains.
package tigerbeetle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	tb "github.com/tigerbeetle/tigerbeetle-go"
	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/ledger"
	"github.com/tallyfinance/tally/model"
)

const (
	codeDeposit    uint16 = 1
	codeWithdrawal uint16 = 2
	codeTransfer   uint16 = 3
)

// Backend talks to one TigerBeetle cluster.
type Backend struct {
	client tb.Client
}

// NewBackend connects to the cluster, retrying while it comes up.
func NewBackend(conf *config.TigerBeetleConfig) (*Backend, error) {
	var client tb.Client
	connect := func() error {
		var err error
		client, err = tb.NewClient(types.ToUint128(conf.ClusterID), conf.Addresses)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err := backoff.RetryNotify(connect, bo, func(err error, next time.Duration) {
		logrus.WithError(err).Warnf("tigerbeetle not ready, retrying in %s", next)
	})
	if err != nil {
		return nil, err
	}
	return &Backend{client: client}, nil
}

func (b *Backend) Close() {
	b.client.Close()
}

// accountID maps a directory account id onto the 128-bit id space.
func accountID(id string) (types.Uint128, error) {
	u, err := model.UUIDFromID(id)
	if err != nil {
		return types.Uint128{}, err
	}
	return types.BytesToUint128([16]byte(u)), nil
}

// settleID derives the deterministic id of the post or void event for a
// transfer reference, so a retried settle hits the same event.
func settleID(ref uuid.UUID, action string) types.Uint128 {
	u := uuid.NewSHA1(ref, []byte(action))
	return types.BytesToUint128([16]byte(u))
}

func kindCode(kind model.TransferKind) uint16 {
	switch kind {
	case model.KindDeposit:
		return codeDeposit
	case model.KindWithdrawal:
		return codeWithdrawal
	default:
		return codeTransfer
	}
}

func codeKind(code uint16) model.TransferKind {
	switch code {
	case codeDeposit:
		return model.KindDeposit
	case codeWithdrawal:
		return model.KindWithdrawal
	default:
		return model.KindTransfer
	}
}

func uint128ToUint64(v types.Uint128) uint64 {
	bi := v.BigInt()
	return bi.Uint64()
}

// CreateAccounts provisions one TigerBeetle account per directory row.
// Settlement accounts may not be credited beyond what was debited through
// them; every other account may not be debited beyond what it holds. An
// already-provisioned account is not an error.
func (b *Backend) CreateAccounts(ctx context.Context, accounts []*model.LedgerAccount) error {
	events := make([]types.Account, 0, len(accounts))
	for _, account := range accounts {
		id, err := accountID(account.AccountID)
		if err != nil {
			return ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("account id %q is not uuid-shaped", account.AccountID), err)
		}

		flags := types.AccountFlags{DebitsMustNotExceedCredits: true}
		if account.Kind.IsSettlement() {
			flags = types.AccountFlags{CreditsMustNotExceedDebits: true}
		}

		events = append(events, types.Account{
			ID:     id,
			Ledger: account.Ledger,
			Code:   1,
			Flags:  flags.ToUint16(),
		})
	}

	results, err := b.client.CreateAccounts(events)
	if err != nil {
		return ledgererror.New(ledgererror.ErrUnknownError, "failed to provision accounts", err)
	}
	for _, result := range results {
		if result.Result == types.AccountExists {
			continue
		}
		return ledgererror.New(ledgererror.ErrUnknownError,
			fmt.Sprintf("account provisioning failed: %s", result.Result), nil)
	}
	return nil
}

// CreateTransfers submits the batch as one linked chain, so TigerBeetle
// applies it all-or-nothing. Balance failures come back as result codes
// and are mapped to the engine's typed errors by side.
func (b *Backend) CreateTransfers(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError) {
	if len(batch) == 0 {
		return nil, nil
	}

	if errs := ledger.ValidateBatch(batch); len(errs) > 0 {
		return nil, errs
	}

	now := time.Now()
	events := make([]types.Transfer, 0, len(batch))
	transfers := make([]*model.LedgerTransfer, 0, len(batch))
	for i, args := range batch {
		ref, err := model.UUIDFromID(args.TransferRef)
		if err != nil {
			return nil, []ledgererror.BatchError{{
				Index: i,
				Err:   ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("transfer reference %q is not a well-formed UUID", args.TransferRef), nil),
			}}
		}
		debitID, err := accountID(args.DebitAccount.AccountID)
		if err != nil {
			return nil, []ledgererror.BatchError{{
				Index: i,
				Err:   ledgererror.New(ledgererror.ErrUnknownSourceAccount, "debit account id is malformed", err),
			}}
		}
		creditID, err := accountID(args.CreditAccount.AccountID)
		if err != nil {
			return nil, []ledgererror.BatchError{{
				Index: i,
				Err:   ledgererror.New(ledgererror.ErrUnknownDestinationAccount, "credit account id is malformed", err),
			}}
		}

		flags := types.TransferFlags{Linked: i < len(batch)-1}
		var timeout uint32
		if args.Pending() {
			flags.Pending = true
			timeout = timeoutSeconds(args.Timeout)
		}

		events = append(events, types.Transfer{
			ID:              types.BytesToUint128([16]byte(ref)),
			DebitAccountID:  debitID,
			CreditAccountID: creditID,
			Amount:          types.ToUint128(args.Amount),
			Ledger:          args.DebitAccount.Ledger,
			Code:            kindCode(args.Kind),
			Flags:           flags.ToUint16(),
			Timeout:         timeout,
		})

		transfer := &model.LedgerTransfer{
			TransferID:      "trf_" + ref.String(),
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
		transfers = append(transfers, transfer)
	}

	results, err := b.client.CreateTransfers(events)
	if err != nil {
		return nil, []ledgererror.BatchError{{
			Index: -1,
			Err:   ledgererror.New(ledgererror.ErrUnknownError, "failed to submit transfer batch", err),
		}}
	}

	var errs []ledgererror.BatchError
	for _, result := range results {
		// Members that failed only because the chain broke are noise;
		// report the events that actually failed.
		if result.Result == types.TransferLinkedEventFailed {
			continue
		}
		errs = append(errs, ledgererror.BatchError{
			Index: int(result.Index),
			Err:   mapTransferResult(result.Result, batch[result.Index]),
		})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return transfers, nil
}

// timeoutSeconds rounds a reservation timeout up to whole seconds, the
// granularity TigerBeetle expires at.
func timeoutSeconds(d time.Duration) uint32 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(secs)
}

func mapTransferResult(result types.CreateTransferResult, args *model.CreateTransferArgs) ledgererror.LedgerError {
	switch result {
	case types.TransferExceedsCredits:
		return ledgererror.New(ledgererror.ErrInsufficientDebitBalance,
			fmt.Sprintf("account %s cannot cover a debit of %d", args.DebitAccount.AccountID, args.Amount), nil)
	case types.TransferExceedsDebits:
		return ledgererror.New(ledgererror.ErrInsufficientBalance,
			fmt.Sprintf("settlement account %s cannot receive %d", args.CreditAccount.AccountID, args.Amount), nil)
	case types.TransferExists,
		types.TransferExistsWithDifferentFlags,
		types.TransferExistsWithDifferentAmount,
		types.TransferExistsWithDifferentDebitAccountID,
		types.TransferExistsWithDifferentCreditAccountID:
		return ledgererror.New(ledgererror.ErrTransferExists,
			fmt.Sprintf("transfer with reference %q already exists", args.TransferRef), nil)
	case types.TransferAccountsMustBeDifferent:
		return ledgererror.New(ledgererror.ErrSameAccounts, "transfer debits and credits the same account", nil)
	case types.TransferAccountsMustHaveTheSameLedger:
		return ledgererror.New(ledgererror.ErrDifferentAssets, "transfer accounts are denominated in different assets", nil)
	case types.TransferDebitAccountNotFound:
		return ledgererror.New(ledgererror.ErrUnknownSourceAccount, "debit account was never provisioned", nil)
	case types.TransferCreditAccountNotFound:
		return ledgererror.New(ledgererror.ErrUnknownDestinationAccount, "credit account was never provisioned", nil)
	default:
		return ledgererror.New(ledgererror.ErrUnknownError,
			fmt.Sprintf("transfer rejected: %s", result), nil)
	}
}

// PostTransfer finalizes a pending reservation with a post-pending event
// carrying the reservation's full amount.
func (b *Backend) PostTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	return b.settleTransfer(ctx, transferRef, model.StatePosted)
}

// VoidTransfer cancels a pending reservation. A reservation TigerBeetle
// already expired counts as voided: the reserved value was released the
// same way.
func (b *Backend) VoidTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	return b.settleTransfer(ctx, transferRef, model.StateVoided)
}

func (b *Backend) settleTransfer(ctx context.Context, transferRef string, target model.TransferState) (*model.LedgerTransfer, error) {
	ref, err := model.UUIDFromID(transferRef)
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("transfer reference %q is not a well-formed UUID", transferRef), nil)
	}

	transfer, pending, err := b.lookupTransfer(ref, transferRef)
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

	flags := types.TransferFlags{VoidPendingTransfer: true}
	action := "voided"
	if target == model.StatePosted {
		flags = types.TransferFlags{PostPendingTransfer: true}
		action = "posted"
	}

	results, err := b.client.CreateTransfers([]types.Transfer{{
		ID:        settleID(ref, action),
		PendingID: pending.ID,
		Amount:    pending.Amount,
		Ledger:    pending.Ledger,
		Code:      pending.Code,
		Flags:     flags.ToUint16(),
	}})
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to settle transfer", err)
	}

	for _, result := range results {
		switch result.Result {
		case types.TransferPendingTransferAlreadyPosted:
			return nil, ledgererror.New(ledgererror.ErrAlreadyPosted,
				fmt.Sprintf("transfer %q was already posted", transferRef), nil)
		case types.TransferPendingTransferAlreadyVoided:
			return nil, ledgererror.New(ledgererror.ErrAlreadyVoided,
				fmt.Sprintf("transfer %q was already voided", transferRef), nil)
		case types.TransferPendingTransferExpired:
			if target == model.StateVoided {
				transfer.State = model.StateVoided
				return transfer, nil
			}
			return nil, ledgererror.New(ledgererror.ErrTransferExpired,
				fmt.Sprintf("transfer %q expired and can only be voided", transferRef), nil)
		default:
			return nil, ledgererror.New(ledgererror.ErrUnknownError,
				fmt.Sprintf("settle rejected: %s", result.Result), nil)
		}
	}

	transfer.State = target
	return transfer, nil
}

// GetTransfer reconstructs a transfer's current state from the pending
// event and its deterministic post/void companions.
func (b *Backend) GetTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	ref, err := model.UUIDFromID(transferRef)
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("transfer reference %q is not a well-formed UUID", transferRef), nil)
	}
	transfer, _, err := b.lookupTransfer(ref, transferRef)
	return transfer, err
}

func (b *Backend) lookupTransfer(ref uuid.UUID, transferRef string) (*model.LedgerTransfer, *types.Transfer, error) {
	ids := []types.Uint128{
		types.BytesToUint128([16]byte(ref)),
		settleID(ref, "posted"),
		settleID(ref, "voided"),
	}
	found, err := b.client.LookupTransfers(ids)
	if err != nil {
		return nil, nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to look up transfer", err)
	}

	var original *types.Transfer
	state := model.StatePending
	for i := range found {
		event := found[i]
		switch event.ID {
		case ids[0]:
			original = &event
		case ids[1]:
			state = model.StatePosted
		case ids[2]:
			state = model.StateVoided
		}
	}
	if original == nil {
		return nil, nil, ledgererror.New(ledgererror.ErrUnknownTransfer, "transfer not found", nil)
	}

	if !original.TransferFlags().Pending {
		state = model.StatePosted
	}

	createdAt := time.Unix(0, int64(original.Timestamp))
	transfer := &model.LedgerTransfer{
		TransferID:      "trf_" + ref.String(),
		TransferRef:     transferRef,
		DebitAccountID:  "acc_" + uuid.UUID(original.DebitAccountID.Bytes()).String(),
		CreditAccountID: "acc_" + uuid.UUID(original.CreditAccountID.Bytes()).String(),
		Ledger:          original.Ledger,
		Amount:          uint128ToUint64(original.Amount),
		State:           state,
		Kind:            codeKind(original.Code),
		CreatedAt:       createdAt,
	}
	if original.TransferFlags().Pending && original.Timeout > 0 {
		expiresAt := createdAt.Add(time.Duration(original.Timeout) * time.Second)
		transfer.ExpiresAt = &expiresAt
	}
	return transfer, original, nil
}

// GetAccountBalance reads the four balance fields TigerBeetle maintains on
// the account itself. An account that was never provisioned reports zero
// on every field.
func (b *Backend) GetAccountBalance(ctx context.Context, account *model.LedgerAccount) (*model.AccountBalance, error) {
	balances, err := b.GetAccountsBalances(ctx, []*model.LedgerAccount{account})
	if err != nil {
		return nil, err
	}
	return balances[0], nil
}

// GetAccountsBalances reads balances for several accounts in one lookup,
// preserving input order.
func (b *Backend) GetAccountsBalances(ctx context.Context, accounts []*model.LedgerAccount) ([]*model.AccountBalance, error) {
	ids := make([]types.Uint128, 0, len(accounts))
	slots := make(map[types.Uint128]int, len(accounts))
	balances := make([]*model.AccountBalance, len(accounts))
	for i, account := range accounts {
		id, err := accountID(account.AccountID)
		if err != nil {
			return nil, ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("account id %q is not uuid-shaped", account.AccountID), err)
		}
		ids = append(ids, id)
		slots[id] = i
		balances[i] = &model.AccountBalance{AccountID: account.AccountID}
	}

	found, err := b.client.LookupAccounts(ids)
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to look up accounts", err)
	}

	for _, event := range found {
		i, ok := slots[event.ID]
		if !ok {
			continue
		}
		balances[i].CreditsPosted = uint128ToUint64(event.CreditsPosted)
		balances[i].CreditsPending = uint128ToUint64(event.CreditsPending)
		balances[i].DebitsPosted = uint128ToUint64(event.DebitsPosted)
		balances[i].DebitsPending = uint128ToUint64(event.DebitsPending)
	}
	return balances, nil
}

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

package tally

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/internal/notification"
	"github.com/tallyfinance/tally/model"
)

// CreateDeposit moves value into an account from the settlement account of
// its asset, recording that the value entered the system. Deposits post
// immediately.
func (l *Tally) CreateDeposit(ctx context.Context, transferRef, accountRef string, kind model.AccountKind, amount uint64) (*model.LedgerTransfer, error) {
	ctx, span := tracer.Start(ctx, "Creating deposit")
	defer span.End()

	target, err := l.datasource.GetAccount(ctx, accountRef, kind)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownDestinationAccount, "deposit target account does not exist", nil)
	}
	settlement, err := l.settlementFor(ctx, target)
	if err != nil {
		return nil, err
	}

	transfer, err := l.createSingleTransfer(ctx, &model.CreateTransferArgs{
		TransferRef:   transferRef,
		DebitAccount:  settlement,
		CreditAccount: target,
		Amount:        amount,
		Kind:          model.KindDeposit,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	l.afterSettlement(ctx, transfer, target)
	return transfer, nil
}

// CreateWithdrawal moves value out of an account into the settlement
// account of its asset. With a timeout the withdrawal is created as a
// PENDING reservation awaiting PostWithdrawal or VoidWithdrawal; with no
// timeout it posts immediately.
func (l *Tally) CreateWithdrawal(ctx context.Context, transferRef, accountRef string, kind model.AccountKind, amount uint64, timeout time.Duration) (*model.LedgerTransfer, error) {
	ctx, span := tracer.Start(ctx, "Creating withdrawal")
	defer span.End()

	target, err := l.datasource.GetAccount(ctx, accountRef, kind)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownSourceAccount, "withdrawal source account does not exist", nil)
	}
	settlement, err := l.settlementFor(ctx, target)
	if err != nil {
		return nil, err
	}

	// Sides are swapped relative to a deposit: the account funds the
	// settlement account, so source sufficiency applies to the account and
	// settlement capacity to what previously entered through it.
	args := &model.CreateTransferArgs{
		TransferRef:   transferRef,
		DebitAccount:  target,
		CreditAccount: settlement,
		Amount:        amount,
		Timeout:       timeout,
		Kind:          model.KindWithdrawal,
	}
	transfer, err := l.createSingleTransfer(ctx, args)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if transfer.State == model.StatePosted {
		l.afterSettlement(ctx, transfer, target)
	} else if err := l.SendWebhook(ctx, NewWebhook{Event: transferEvent(transfer.State), Payload: transfer}); err != nil {
		span.RecordError(err)
	}
	return transfer, nil
}

// PostWithdrawal finalizes a pending withdrawal after out-of-band approval.
func (l *Tally) PostWithdrawal(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	ctx, span := tracer.Start(ctx, "Posting withdrawal")
	defer span.End()

	transfer, err := l.backend.PostTransfer(ctx, transferRef)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	debit, lookupErr := l.datasource.GetAccountByID(ctx, transfer.DebitAccountID)
	if lookupErr != nil {
		// The withdrawal is already posted; the follow-up notifications are
		// lost for this settlement, so surface the lookup failure.
		notification.NotifyError(lookupErr)
		return transfer, nil
	}
	l.afterSettlement(ctx, transfer, debit)
	return transfer, nil
}

// VoidWithdrawal cancels a pending withdrawal, releasing the reservation.
func (l *Tally) VoidWithdrawal(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	ctx, span := tracer.Start(ctx, "Voiding withdrawal")
	defer span.End()

	transfer, err := l.backend.VoidTransfer(ctx, transferRef)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := l.SendWebhook(ctx, NewWebhook{Event: transferEvent(transfer.State), Payload: transfer}); err != nil {
		span.RecordError(err)
	}
	return transfer, nil
}

// TransferArgs describes an account-to-account transfer. DestinationAmount
// only applies across assets, where the amounts are denominated in the two
// assets' own minor units; it defaults to Amount.
type TransferArgs struct {
	TransferRef       string
	SourceRef         string
	SourceKind        model.AccountKind
	DestinationRef    string
	DestinationKind   model.AccountKind
	Amount            uint64
	DestinationAmount uint64
	Timeout           time.Duration
}

// Transaction is the two-phase handle a transfer returns. Commit posts
// every leg, Rollback voids them. The handle finalizes exactly once; later
// calls fail with AlreadyPosted or AlreadyVoided without reaching the
// backend.
type Transaction struct {
	tally    *Tally
	legs     []string
	accounts []*model.LedgerAccount

	mu    sync.Mutex
	state model.TransferState
}

// CreateTransfer moves value between two accounts. Same-asset transfers
// are a single transfer; cross-asset transfers route through the two asset
// liquidity accounts as one atomic batch, so the spread between Amount and
// DestinationAmount lands on those liquidity accounts. With a timeout the
// legs are reservations finalized through the returned handle; without
// one they post immediately and the returned handle comes back already
// finalized, so Commit and Rollback fail with AlreadyPosted.
func (l *Tally) CreateTransfer(ctx context.Context, args TransferArgs) (*Transaction, error) {
	ctx, span := tracer.Start(ctx, "Creating transfer")
	defer span.End()

	source, err := l.datasource.GetAccount(ctx, args.SourceRef, args.SourceKind)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownSourceAccount, "source account does not exist", nil)
	}
	destination, err := l.datasource.GetAccount(ctx, args.DestinationRef, args.DestinationKind)
	if err != nil {
		return nil, err
	}
	if destination == nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownDestinationAccount, "destination account does not exist", nil)
	}

	destinationAmount := args.DestinationAmount
	if destinationAmount == 0 {
		destinationAmount = args.Amount
	}

	crossAsset := source.Ledger != destination.Ledger
	var batch []*model.CreateTransferArgs
	if !crossAsset {
		if destinationAmount != args.Amount {
			return nil, ledgererror.New(ledgererror.ErrInvalidAmount, "same-asset transfers cannot change amount in flight", nil)
		}
		batch = []*model.CreateTransferArgs{{
			TransferRef:   args.TransferRef,
			DebitAccount:  source,
			CreditAccount: destination,
			Amount:        args.Amount,
			Timeout:       args.Timeout,
			Kind:          model.KindTransfer,
		}}
	} else {
		sourceLiquidity, err := l.GetLiquidityAccount(ctx, source.Ledger)
		if err != nil {
			return nil, err
		}
		destinationLiquidity, err := l.GetLiquidityAccount(ctx, destination.Ledger)
		if err != nil {
			return nil, err
		}
		// Leg one carries the caller's reference; leg two gets its own so
		// both can be settled independently by the backend.
		batch = []*model.CreateTransferArgs{
			{
				TransferRef:   args.TransferRef,
				DebitAccount:  source,
				CreditAccount: sourceLiquidity,
				Amount:        args.Amount,
				Timeout:       args.Timeout,
				Kind:          model.KindTransfer,
			},
			{
				TransferRef:   uuid.New().String(),
				DebitAccount:  destinationLiquidity,
				CreditAccount: destination,
				Amount:        destinationAmount,
				Timeout:       args.Timeout,
				Kind:          model.KindTransfer,
			},
		}
	}

	transfers, errs := l.backend.CreateTransfers(ctx, batch)
	if len(errs) > 0 {
		err := transferBatchError(errs, crossAsset)
		span.RecordError(err)
		return nil, err
	}

	handle := &Transaction{
		tally:    l,
		accounts: []*model.LedgerAccount{source, destination},
		state:    model.StatePending,
	}
	for _, transfer := range transfers {
		handle.legs = append(handle.legs, transfer.TransferRef)
	}

	if args.Timeout == 0 {
		handle.state = model.StatePosted
		for _, transfer := range transfers {
			if err := l.SendWebhook(ctx, NewWebhook{Event: transferEvent(model.StatePosted), Payload: transfer}); err != nil {
				span.RecordError(err)
			}
		}
		l.checkMonitors(ctx, source, destination)
		return handle, nil
	}

	for _, transfer := range transfers {
		if err := l.SendWebhook(ctx, NewWebhook{Event: transferEvent(model.StatePending), Payload: transfer}); err != nil {
			span.RecordError(err)
		}
	}
	return handle, nil
}

// transferBatchError reduces a batch failure to one typed error. On the
// destination leg of a cross-asset transfer, a balance failure means the
// asset liquidity account cannot cover the conversion, which callers know
// as insufficient liquidity.
func transferBatchError(errs []ledgererror.BatchError, crossAsset bool) error {
	first := errs[0]
	if crossAsset {
		for _, e := range errs {
			if e.Index != 1 {
				continue
			}
			switch e.Err.Code {
			case ledgererror.ErrInsufficientBalance, ledgererror.ErrInsufficientDebitBalance:
				return ledgererror.New(ledgererror.ErrInsufficientLiquidity,
					"asset liquidity account cannot cover the destination amount", nil)
			}
		}
	}
	return first.Err
}

// Commit posts every leg of the transfer.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case model.StatePosted:
		return ledgererror.New(ledgererror.ErrAlreadyPosted, "transfer was already committed", nil)
	case model.StateVoided:
		return ledgererror.New(ledgererror.ErrAlreadyVoided, "transfer was already rolled back", nil)
	}

	posted := make([]*model.LedgerTransfer, 0, len(t.legs))
	for _, ref := range t.legs {
		transfer, err := t.tally.backend.PostTransfer(ctx, ref)
		if err != nil {
			return err
		}
		posted = append(posted, transfer)
	}
	t.state = model.StatePosted

	for _, transfer := range posted {
		if err := t.tally.SendWebhook(ctx, NewWebhook{Event: transferEvent(model.StatePosted), Payload: transfer}); err != nil {
			notification.NotifyError(err)
		}
	}
	t.tally.checkMonitors(ctx, t.accounts...)
	return nil
}

// Rollback voids every leg, releasing the reservations. An expired
// reservation can still be rolled back.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case model.StatePosted:
		return ledgererror.New(ledgererror.ErrAlreadyPosted, "transfer was already committed", nil)
	case model.StateVoided:
		return ledgererror.New(ledgererror.ErrAlreadyVoided, "transfer was already rolled back", nil)
	}

	voided := make([]*model.LedgerTransfer, 0, len(t.legs))
	for _, ref := range t.legs {
		transfer, err := t.tally.backend.VoidTransfer(ctx, ref)
		if err != nil {
			return err
		}
		voided = append(voided, transfer)
	}
	t.state = model.StateVoided

	for _, transfer := range voided {
		if err := t.tally.SendWebhook(ctx, NewWebhook{Event: transferEvent(model.StateVoided), Payload: transfer}); err != nil {
			notification.NotifyError(err)
		}
	}
	return nil
}

// GetTransfer resolves a transfer by its caller-supplied reference.
func (l *Tally) GetTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	return l.backend.GetTransfer(ctx, transferRef)
}

func (l *Tally) settlementFor(ctx context.Context, target *model.LedgerAccount) (*model.LedgerAccount, error) {
	if target == nil {
		return nil, nil
	}
	return l.GetSettlementAccount(ctx, target.Ledger)
}

// createSingleTransfer runs a one-item batch and unwraps its outcome.
func (l *Tally) createSingleTransfer(ctx context.Context, args *model.CreateTransferArgs) (*model.LedgerTransfer, error) {
	transfers, errs := l.backend.CreateTransfers(ctx, []*model.CreateTransferArgs{args})
	if len(errs) > 0 {
		return nil, errs[0].Err
	}
	return transfers[0], nil
}

// afterSettlement fires the settled-transfer webhook and re-evaluates the
// monitors of the affected accounts.
func (l *Tally) afterSettlement(ctx context.Context, transfer *model.LedgerTransfer, accounts ...*model.LedgerAccount) {
	if err := l.SendWebhook(ctx, NewWebhook{Event: transferEvent(transfer.State), Payload: transfer}); err != nil {
		notification.NotifyError(err)
	}
	l.checkMonitors(ctx, accounts...)
}

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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

func expectAccountLookup(mock sqlmock.Sqlmock, ref string, account *model.LedgerAccount) {
	rows := accountColumns()
	if account != nil {
		rows.AddRow(int64(1), account.AccountID, ref, int64(account.Ledger), string(account.Kind), time.Now(), []byte("{}"))
	}
	mock.ExpectQuery("SELECT .* FROM tally.accounts").WillReturnRows(rows)
}

func expectAssetLookup(mock sqlmock.Sqlmock, ledger uint32, assetID string) {
	mock.ExpectQuery("SELECT .* FROM tally.assets").
		WithArgs(int64(ledger)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "asset_id", "code", "scale", "created_at", "meta_data"}).
			AddRow(int64(ledger), assetID, "USD", uint8(2), time.Now(), []byte("{}")))
}

func expectNoMonitors(mock sqlmock.Sqlmock, accountID string) {
	mock.ExpectQuery("SELECT .* FROM tally.threshold_monitors").
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"monitor_id", "account_id", "field", "operator", "value",
			"description", "call_back_url", "created_at"}))
}

func TestCreateDeposit(t *testing.T) {
	engine, mock := newTestTally(t)
	ref := gofakeit.UUID()
	transferRef := gofakeit.UUID()

	expectAccountLookup(mock, ref, &model.LedgerAccount{AccountID: "acc_alice", Kind: model.LiquidityIncoming, Ledger: 1})
	expectAssetLookup(mock, 1, "ast_test")
	expectAccountLookup(mock, "ast_test", &model.LedgerAccount{AccountID: "acc_settle", Kind: model.Settlement, Ledger: 1})

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("acc_alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("acc_settle").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WithArgs("acc_settle").
		WillReturnRows(sqlmock.NewRows([]string{"cp", "cpe", "dp", "dpe"}).AddRow(0, 0, 0, 0))
	mock.ExpectQuery("SELECT COALESCE").WithArgs("acc_alice").
		WillReturnRows(sqlmock.NewRows([]string{"cp", "cpe", "dp", "dpe"}).AddRow(0, 0, 0, 0))
	mock.ExpectQuery("INSERT INTO tally.transfers").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	expectNoMonitors(mock, "acc_alice")

	transfer, err := engine.CreateDeposit(context.Background(), transferRef, ref, model.LiquidityIncoming, 500)
	assert.NoError(t, err)
	assert.Equal(t, model.StatePosted, transfer.State)
	assert.Equal(t, model.KindDeposit, transfer.Kind)
	assert.Equal(t, "acc_settle", transfer.DebitAccountID)
	assert.Equal(t, "acc_alice", transfer.CreditAccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDepositUnknownAccount(t *testing.T) {
	engine, mock := newTestTally(t)
	ref := gofakeit.UUID()

	expectAccountLookup(mock, ref, nil)

	transfer, err := engine.CreateDeposit(context.Background(), gofakeit.UUID(), ref, model.LiquidityIncoming, 500)
	require.Error(t, err)
	assert.Nil(t, transfer)
	// A deposit credits the looked-up account, so a missing one is an
	// unknown destination, not an unknown source.
	assert.True(t, ledgererror.Is(err, ledgererror.ErrUnknownDestinationAccount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithdrawalUnknownAccount(t *testing.T) {
	engine, mock := newTestTally(t)
	ref := gofakeit.UUID()

	expectAccountLookup(mock, ref, nil)

	transfer, err := engine.CreateWithdrawal(context.Background(), gofakeit.UUID(), ref, model.LiquidityOutgoing, 300, 0)
	require.Error(t, err)
	assert.Nil(t, transfer)
	assert.True(t, ledgererror.Is(err, ledgererror.ErrUnknownSourceAccount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithdrawalPending(t *testing.T) {
	engine, mock := newTestTally(t)
	ref := gofakeit.UUID()

	expectAccountLookup(mock, ref, &model.LedgerAccount{AccountID: "acc_alice", Kind: model.LiquidityOutgoing, Ledger: 1})
	expectAssetLookup(mock, 1, "ast_test")
	expectAccountLookup(mock, "ast_test", &model.LedgerAccount{AccountID: "acc_settle", Kind: model.Settlement, Ledger: 1})

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("acc_alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("acc_settle").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WithArgs("acc_alice").
		WillReturnRows(sqlmock.NewRows([]string{"cp", "cpe", "dp", "dpe"}).AddRow(1000, 0, 0, 0))
	mock.ExpectQuery("SELECT COALESCE").WithArgs("acc_settle").
		WillReturnRows(sqlmock.NewRows([]string{"cp", "cpe", "dp", "dpe"}).AddRow(0, 0, 5000, 0))
	mock.ExpectQuery("INSERT INTO tally.transfers").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	transfer, err := engine.CreateWithdrawal(context.Background(), gofakeit.UUID(), ref, model.LiquidityOutgoing, 300, time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, model.StatePending, transfer.State)
	assert.Equal(t, model.KindWithdrawal, transfer.Kind)
	assert.NotNil(t, transfer.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithdrawalOverdraw(t *testing.T) {
	engine, mock := newTestTally(t)
	ref := gofakeit.UUID()

	expectAccountLookup(mock, ref, &model.LedgerAccount{AccountID: "acc_alice", Kind: model.LiquidityOutgoing, Ledger: 1})
	expectAssetLookup(mock, 1, "ast_test")
	expectAccountLookup(mock, "ast_test", &model.LedgerAccount{AccountID: "acc_settle", Kind: model.Settlement, Ledger: 1})

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("acc_alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("acc_settle").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WithArgs("acc_alice").
		WillReturnRows(sqlmock.NewRows([]string{"cp", "cpe", "dp", "dpe"}).AddRow(100, 0, 0, 0))
	mock.ExpectQuery("SELECT COALESCE").WithArgs("acc_settle").
		WillReturnRows(sqlmock.NewRows([]string{"cp", "cpe", "dp", "dpe"}).AddRow(0, 0, 5000, 0))
	mock.ExpectRollback()

	_, err := engine.CreateWithdrawal(context.Background(), gofakeit.UUID(), ref, model.LiquidityOutgoing, 300, 0)
	assert.True(t, ledgererror.Is(err, ledgererror.ErrInsufficientDebitBalance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostWithdrawal(t *testing.T) {
	engine, mock := newTestTally(t)
	ref := gofakeit.UUID()
	expiresAt := time.Now().Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM tally.transfers .* FOR UPDATE").
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows([]string{"id", "transfer_id", "transfer_ref", "debit_account_id",
			"credit_account_id", "ledger", "amount", "state", "kind", "expires_at", "created_at"}).
			AddRow(int64(1), "trf_test", ref, "acc_alice", "acc_settle", int64(1), int64(300),
				string(model.StatePending), string(model.KindWithdrawal), expiresAt, time.Now()))
	mock.ExpectExec("UPDATE tally.transfers").
		WithArgs(ref, model.StatePosted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expectAccountLookup(mock, "acc_alice", &model.LedgerAccount{AccountID: "acc_alice", Kind: model.LiquidityOutgoing, Ledger: 1})
	expectNoMonitors(mock, "acc_alice")

	transfer, err := engine.PostWithdrawal(context.Background(), ref)
	assert.NoError(t, err)
	assert.Equal(t, model.StatePosted, transfer.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostWithdrawalAccountLookupFailure(t *testing.T) {
	engine, mock := newTestTally(t)
	ref := gofakeit.UUID()
	expiresAt := time.Now().Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM tally.transfers .* FOR UPDATE").
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows([]string{"id", "transfer_id", "transfer_ref", "debit_account_id",
			"credit_account_id", "ledger", "amount", "state", "kind", "expires_at", "created_at"}).
			AddRow(int64(1), "trf_test", ref, "acc_alice", "acc_settle", int64(1), int64(300),
				string(model.StatePending), string(model.KindWithdrawal), expiresAt, time.Now()))
	mock.ExpectExec("UPDATE tally.transfers").
		WithArgs(ref, model.StatePosted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT .* FROM tally.accounts").WillReturnError(assert.AnError)

	// The withdrawal is settled at this point; a failed follow-up lookup
	// must not turn the call into an error.
	transfer, err := engine.PostWithdrawal(context.Background(), ref)
	assert.NoError(t, err)
	assert.Equal(t, model.StatePosted, transfer.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVoidWithdrawal(t *testing.T) {
	engine, mock := newTestTally(t)
	ref := gofakeit.UUID()
	expiresAt := time.Now().Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM tally.transfers .* FOR UPDATE").
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows([]string{"id", "transfer_id", "transfer_ref", "debit_account_id",
			"credit_account_id", "ledger", "amount", "state", "kind", "expires_at", "created_at"}).
			AddRow(int64(1), "trf_test", ref, "acc_alice", "acc_settle", int64(1), int64(300),
				string(model.StatePending), string(model.KindWithdrawal), expiresAt, time.Now()))
	mock.ExpectExec("UPDATE tally.transfers").
		WithArgs(ref, model.StateVoided).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	transfer, err := engine.VoidWithdrawal(context.Background(), ref)
	assert.NoError(t, err)
	assert.Equal(t, model.StateVoided, transfer.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferSameAsset(t *testing.T) {
	engine, mock := newTestTally(t)
	sourceRef, destRef := gofakeit.UUID(), gofakeit.UUID()
	transferRef := gofakeit.UUID()

	backend := &mockBackend{
		createTransfers: func(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError) {
			require.Len(t, batch, 1)
			assert.Equal(t, transferRef, batch[0].TransferRef)
			assert.Equal(t, "acc_src", batch[0].DebitAccount.AccountID)
			assert.Equal(t, "acc_dst", batch[0].CreditAccount.AccountID)
			assert.Equal(t, uint64(100), batch[0].Amount)
			return []*model.LedgerTransfer{{TransferRef: transferRef, State: model.StatePending}}, nil
		},
		postTransfer: func(ctx context.Context, ref string) (*model.LedgerTransfer, error) {
			assert.Equal(t, transferRef, ref)
			return &model.LedgerTransfer{TransferRef: ref, State: model.StatePosted}, nil
		},
	}
	engine.backend = backend

	expectAccountLookup(mock, sourceRef, &model.LedgerAccount{AccountID: "acc_src", Kind: model.LiquidityIncoming, Ledger: 1})
	expectAccountLookup(mock, destRef, &model.LedgerAccount{AccountID: "acc_dst", Kind: model.LiquidityOutgoing, Ledger: 1})
	expectNoMonitors(mock, "acc_src")
	expectNoMonitors(mock, "acc_dst")

	handle, err := engine.CreateTransfer(context.Background(), TransferArgs{
		TransferRef:     transferRef,
		SourceRef:       sourceRef,
		SourceKind:      model.LiquidityIncoming,
		DestinationRef:  destRef,
		DestinationKind: model.LiquidityOutgoing,
		Amount:          100,
		Timeout:         time.Minute,
	})
	require.NoError(t, err)

	assert.NoError(t, handle.Commit(context.Background()))

	// The handle finalizes exactly once.
	assert.True(t, ledgererror.Is(handle.Commit(context.Background()), ledgererror.ErrAlreadyPosted))
	assert.True(t, ledgererror.Is(handle.Rollback(context.Background()), ledgererror.ErrAlreadyPosted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferSameAssetAmountMismatch(t *testing.T) {
	engine, mock := newTestTally(t)
	sourceRef, destRef := gofakeit.UUID(), gofakeit.UUID()

	expectAccountLookup(mock, sourceRef, &model.LedgerAccount{AccountID: "acc_src", Kind: model.LiquidityIncoming, Ledger: 1})
	expectAccountLookup(mock, destRef, &model.LedgerAccount{AccountID: "acc_dst", Kind: model.LiquidityOutgoing, Ledger: 1})

	_, err := engine.CreateTransfer(context.Background(), TransferArgs{
		TransferRef:       gofakeit.UUID(),
		SourceRef:         sourceRef,
		SourceKind:        model.LiquidityIncoming,
		DestinationRef:    destRef,
		DestinationKind:   model.LiquidityOutgoing,
		Amount:            100,
		DestinationAmount: 90,
	})
	assert.True(t, ledgererror.Is(err, ledgererror.ErrInvalidAmount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferUnknownSource(t *testing.T) {
	engine, mock := newTestTally(t)
	sourceRef := gofakeit.UUID()

	expectAccountLookup(mock, sourceRef, nil)

	_, err := engine.CreateTransfer(context.Background(), TransferArgs{
		TransferRef:     gofakeit.UUID(),
		SourceRef:       sourceRef,
		SourceKind:      model.LiquidityIncoming,
		DestinationRef:  gofakeit.UUID(),
		DestinationKind: model.LiquidityOutgoing,
		Amount:          100,
	})
	assert.True(t, ledgererror.Is(err, ledgererror.ErrUnknownSourceAccount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferCrossAsset(t *testing.T) {
	engine, mock := newTestTally(t)
	sourceRef, destRef := gofakeit.UUID(), gofakeit.UUID()
	transferRef := gofakeit.UUID()

	var legRefs []string
	backend := &mockBackend{
		createTransfers: func(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError) {
			require.Len(t, batch, 2)
			// Leg one: source funds its asset liquidity account at Amount.
			assert.Equal(t, transferRef, batch[0].TransferRef)
			assert.Equal(t, "acc_src", batch[0].DebitAccount.AccountID)
			assert.Equal(t, "acc_liq_usd", batch[0].CreditAccount.AccountID)
			assert.Equal(t, uint64(100), batch[0].Amount)
			// Leg two: the destination asset liquidity account funds the
			// destination at DestinationAmount, under its own reference.
			assert.True(t, model.IsValidUUID(batch[1].TransferRef))
			assert.NotEqual(t, transferRef, batch[1].TransferRef)
			assert.Equal(t, "acc_liq_eur", batch[1].DebitAccount.AccountID)
			assert.Equal(t, "acc_dst", batch[1].CreditAccount.AccountID)
			assert.Equal(t, uint64(90), batch[1].Amount)

			transfers := make([]*model.LedgerTransfer, 0, 2)
			for _, args := range batch {
				legRefs = append(legRefs, args.TransferRef)
				transfers = append(transfers, &model.LedgerTransfer{TransferRef: args.TransferRef, State: model.StatePending})
			}
			return transfers, nil
		},
		voidTransfer: func(ctx context.Context, ref string) (*model.LedgerTransfer, error) {
			return &model.LedgerTransfer{TransferRef: ref, State: model.StateVoided}, nil
		},
	}
	engine.backend = backend

	expectAccountLookup(mock, sourceRef, &model.LedgerAccount{AccountID: "acc_src", Kind: model.LiquidityIncoming, Ledger: 1})
	expectAccountLookup(mock, destRef, &model.LedgerAccount{AccountID: "acc_dst", Kind: model.LiquidityOutgoing, Ledger: 2})
	expectAssetLookup(mock, 1, "ast_usd")
	expectAccountLookup(mock, "ast_usd", &model.LedgerAccount{AccountID: "acc_liq_usd", Kind: model.LiquidityAsset, Ledger: 1})
	expectAssetLookup(mock, 2, "ast_eur")
	expectAccountLookup(mock, "ast_eur", &model.LedgerAccount{AccountID: "acc_liq_eur", Kind: model.LiquidityAsset, Ledger: 2})

	handle, err := engine.CreateTransfer(context.Background(), TransferArgs{
		TransferRef:       transferRef,
		SourceRef:         sourceRef,
		SourceKind:        model.LiquidityIncoming,
		DestinationRef:    destRef,
		DestinationKind:   model.LiquidityOutgoing,
		Amount:            100,
		DestinationAmount: 90,
		Timeout:           time.Minute,
	})
	require.NoError(t, err)
	assert.Len(t, legRefs, 2)

	assert.NoError(t, handle.Rollback(context.Background()))
	assert.True(t, ledgererror.Is(handle.Rollback(context.Background()), ledgererror.ErrAlreadyVoided))
	assert.True(t, ledgererror.Is(handle.Commit(context.Background()), ledgererror.ErrAlreadyVoided))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferInsufficientLiquidity(t *testing.T) {
	engine, mock := newTestTally(t)
	sourceRef, destRef := gofakeit.UUID(), gofakeit.UUID()

	engine.backend = &mockBackend{
		createTransfers: func(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError) {
			return nil, []ledgererror.BatchError{{
				Index: 1,
				Err:   ledgererror.New(ledgererror.ErrInsufficientDebitBalance, "insufficient", nil),
			}}
		},
	}

	expectAccountLookup(mock, sourceRef, &model.LedgerAccount{AccountID: "acc_src", Kind: model.LiquidityIncoming, Ledger: 1})
	expectAccountLookup(mock, destRef, &model.LedgerAccount{AccountID: "acc_dst", Kind: model.LiquidityOutgoing, Ledger: 2})
	expectAssetLookup(mock, 1, "ast_usd")
	expectAccountLookup(mock, "ast_usd", &model.LedgerAccount{AccountID: "acc_liq_usd", Kind: model.LiquidityAsset, Ledger: 1})
	expectAssetLookup(mock, 2, "ast_eur")
	expectAccountLookup(mock, "ast_eur", &model.LedgerAccount{AccountID: "acc_liq_eur", Kind: model.LiquidityAsset, Ledger: 2})

	_, err := engine.CreateTransfer(context.Background(), TransferArgs{
		TransferRef:       gofakeit.UUID(),
		SourceRef:         sourceRef,
		SourceKind:        model.LiquidityIncoming,
		DestinationRef:    destRef,
		DestinationKind:   model.LiquidityOutgoing,
		Amount:            100,
		DestinationAmount: 90,
		Timeout:           time.Minute,
	})
	assert.True(t, ledgererror.Is(err, ledgererror.ErrInsufficientLiquidity))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferImmediate(t *testing.T) {
	engine, mock := newTestTally(t)
	sourceRef, destRef := gofakeit.UUID(), gofakeit.UUID()
	transferRef := gofakeit.UUID()

	engine.backend = &mockBackend{
		createTransfers: func(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError) {
			assert.False(t, batch[0].Pending())
			return []*model.LedgerTransfer{{TransferRef: transferRef, State: model.StatePosted}}, nil
		},
	}

	expectAccountLookup(mock, sourceRef, &model.LedgerAccount{AccountID: "acc_src", Kind: model.LiquidityIncoming, Ledger: 1})
	expectAccountLookup(mock, destRef, &model.LedgerAccount{AccountID: "acc_dst", Kind: model.LiquidityOutgoing, Ledger: 1})
	expectNoMonitors(mock, "acc_src")
	expectNoMonitors(mock, "acc_dst")

	handle, err := engine.CreateTransfer(context.Background(), TransferArgs{
		TransferRef:     transferRef,
		SourceRef:       sourceRef,
		SourceKind:      model.LiquidityIncoming,
		DestinationRef:  destRef,
		DestinationKind: model.LiquidityOutgoing,
		Amount:          100,
	})
	require.NoError(t, err)

	// Legs posted on creation; the handle is already finalized.
	assert.True(t, ledgererror.Is(handle.Commit(context.Background()), ledgererror.ErrAlreadyPosted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

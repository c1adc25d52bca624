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

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

// newTestTally builds a facade over a sqlmock-backed datasource that also
// serves as the transfer backend. No webhook endpoint is configured, so
// SendWebhook short-circuits before touching the queue.
func newTestTally(t *testing.T) (*Tally, sqlmock.Sqlmock) {
	t.Helper()
	config.MockConfig(&config.Configuration{})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ds := &database.Datasource{Conn: db}
	return &Tally{datasource: ds, backend: ds}, mock
}

// mockBackend lets transfer-handle tests script backend outcomes without a
// database round trip.
type mockBackend struct {
	createTransfers func(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError)
	postTransfer    func(ctx context.Context, transferRef string) (*model.LedgerTransfer, error)
	voidTransfer    func(ctx context.Context, transferRef string) (*model.LedgerTransfer, error)
}

func (m *mockBackend) CreateAccounts(ctx context.Context, accounts []*model.LedgerAccount) error {
	return nil
}

func (m *mockBackend) CreateTransfers(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError) {
	return m.createTransfers(ctx, batch)
}

func (m *mockBackend) PostTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	return m.postTransfer(ctx, transferRef)
}

func (m *mockBackend) VoidTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	return m.voidTransfer(ctx, transferRef)
}

func (m *mockBackend) GetTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error) {
	return nil, ledgererror.New(ledgererror.ErrUnknownTransfer, "transfer not found", nil)
}

func (m *mockBackend) GetAccountBalance(ctx context.Context, account *model.LedgerAccount) (*model.AccountBalance, error) {
	return &model.AccountBalance{AccountID: account.AccountID}, nil
}

func (m *mockBackend) GetAccountsBalances(ctx context.Context, accounts []*model.LedgerAccount) ([]*model.AccountBalance, error) {
	balances := make([]*model.AccountBalance, 0, len(accounts))
	for _, account := range accounts {
		balances = append(balances, &model.AccountBalance{AccountID: account.AccountID})
	}
	return balances, nil
}

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

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

// IDataSource groups the relational operations the engine depends on. The
// asset and account groups always run against Postgres; the transfer and
// balance groups are only exercised when Postgres is the ledger backend.
type IDataSource interface {
	asset
	account
	transfer
	balance
	monitor
}

// asset defines methods for the asset registry.
type asset interface {
	CreateAsset(ctx context.Context, asset model.Asset) (model.Asset, error)
	GetAssetByID(ctx context.Context, id string) (*model.Asset, error)
	GetAssetByLedger(ctx context.Context, ledger uint32) (*model.Asset, error)
	GetAssetByCodeAndScale(ctx context.Context, code string, scale uint8) (*model.Asset, error)
}

// account defines methods for the account directory.
type account interface {
	CreateAccount(ctx context.Context, account model.LedgerAccount) (model.LedgerAccount, error)
	GetAccount(ctx context.Context, accountRef string, kind model.AccountKind) (*model.LedgerAccount, error)
	GetAccountByID(ctx context.Context, id string) (*model.LedgerAccount, error)
}

// transfer defines methods for recording and settling transfers.
type transfer interface {
	CreateTransfers(ctx context.Context, batch []*model.CreateTransferArgs) ([]*model.LedgerTransfer, []ledgererror.BatchError)
	PostTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error)
	VoidTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error)
	GetTransfer(ctx context.Context, transferRef string) (*model.LedgerTransfer, error)
}

// balance defines methods for deriving account balances.
type balance interface {
	GetAccountBalance(ctx context.Context, account *model.LedgerAccount) (*model.AccountBalance, error)
	GetAccountsBalances(ctx context.Context, accounts []*model.LedgerAccount) ([]*model.AccountBalance, error)
}

// monitor defines methods for threshold monitors.
type monitor interface {
	CreateMonitor(ctx context.Context, monitor model.ThresholdMonitor) (model.ThresholdMonitor, error)
	GetMonitorByID(ctx context.Context, id string) (*model.ThresholdMonitor, error)
	GetMonitorsByAccount(ctx context.Context, accountID string) ([]model.ThresholdMonitor, error)
	UpdateMonitor(ctx context.Context, monitor *model.ThresholdMonitor) error
	DeleteMonitor(ctx context.Context, id string) error
}

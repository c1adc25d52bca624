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
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

// CreateAsset registers an asset and provisions its two system accounts:
// the asset liquidity account, which absorbs cross-asset spreads, and the
// settlement account, which marks where value enters and leaves the system.
// Both use the asset id as their account reference.
func (l *Tally) CreateAsset(ctx context.Context, code string, scale uint8, meta map[string]interface{}) (*model.Asset, error) {
	ctx, span := tracer.Start(ctx, "Creating asset")
	defer span.End()

	if err := validation.Validate(code, validation.Required, validation.Length(1, 16)); err != nil {
		return nil, ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("invalid asset code: %v", err), nil)
	}

	asset, err := l.datasource.CreateAsset(ctx, model.Asset{Code: code, Scale: scale, MetaData: meta})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	liquidity, err := l.createDirectoryAccount(ctx, asset.AssetID, asset.Ledger, model.LiquidityAsset)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	settlement, err := l.createDirectoryAccount(ctx, asset.AssetID, asset.Ledger, model.Settlement)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	err = l.SendWebhook(ctx, NewWebhook{Event: "asset.created", Payload: map[string]interface{}{
		"asset":              asset,
		"liquidity_account":  liquidity,
		"settlement_account": settlement,
	}})
	if err != nil {
		span.RecordError(err)
	}
	return &asset, nil
}

func (l *Tally) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	return l.datasource.GetAssetByID(ctx, assetID)
}

// CreateLiquidityAccount registers a balance-holding account for a peer,
// payment or web monetization participant. The reference must carry a
// well-formed UUID; re-registering the same (reference, kind) pair fails
// with AccountAlreadyExists.
func (l *Tally) CreateLiquidityAccount(ctx context.Context, accountRef string, ledger uint32, kind model.AccountKind) (*model.LedgerAccount, error) {
	ctx, span := tracer.Start(ctx, "Creating liquidity account")
	defer span.End()

	if !kind.IsLiquidity() {
		return nil, ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("%q is not a liquidity account kind", kind), nil)
	}

	account, err := l.createDirectoryAccount(ctx, accountRef, ledger, kind)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := l.SendWebhook(ctx, NewWebhook{Event: "account.created", Payload: account}); err != nil {
		span.RecordError(err)
	}
	return account, nil
}

// CreateSettlementAccount provisions an additional settlement account for
// an asset registered without one, typically after a migration from an
// older directory.
func (l *Tally) CreateSettlementAccount(ctx context.Context, assetID string) (*model.LedgerAccount, error) {
	ctx, span := tracer.Start(ctx, "Creating settlement account")
	defer span.End()

	asset, err := l.datasource.GetAssetByID(ctx, assetID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return l.createDirectoryAccount(ctx, asset.AssetID, asset.Ledger, model.Settlement)
}

// createDirectoryAccount writes the directory row and provisions backend
// state for it in one step.
func (l *Tally) createDirectoryAccount(ctx context.Context, accountRef string, ledger uint32, kind model.AccountKind) (*model.LedgerAccount, error) {
	if _, err := model.UUIDFromID(accountRef); err != nil {
		return nil, ledgererror.New(ledgererror.ErrInvalidId, fmt.Sprintf("account reference %q is not a well-formed UUID", accountRef), nil)
	}

	account, err := l.datasource.CreateAccount(ctx, model.LedgerAccount{
		AccountRef: accountRef,
		Ledger:     ledger,
		Kind:       kind,
	})
	if err != nil {
		return nil, err
	}

	if err := l.backend.CreateAccounts(ctx, []*model.LedgerAccount{&account}); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccount resolves a directory entry. A missing account returns
// (nil, nil).
func (l *Tally) GetAccount(ctx context.Context, accountRef string, kind model.AccountKind) (*model.LedgerAccount, error) {
	return l.datasource.GetAccount(ctx, accountRef, kind)
}

// GetLiquidityAccount resolves the asset liquidity account of a ledger.
func (l *Tally) GetLiquidityAccount(ctx context.Context, ledger uint32) (*model.LedgerAccount, error) {
	asset, err := l.datasource.GetAssetByLedger(ctx, ledger)
	if err != nil {
		return nil, err
	}
	return l.datasource.GetAccount(ctx, asset.AssetID, model.LiquidityAsset)
}

// GetSettlementAccount resolves the settlement account of a ledger.
func (l *Tally) GetSettlementAccount(ctx context.Context, ledger uint32) (*model.LedgerAccount, error) {
	asset, err := l.datasource.GetAssetByLedger(ctx, ledger)
	if err != nil {
		return nil, err
	}
	return l.datasource.GetAccount(ctx, asset.AssetID, model.Settlement)
}

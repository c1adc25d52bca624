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
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

const accountCacheTTL = 5 * time.Minute

func accountCacheKey(accountRef string, kind model.AccountKind) string {
	return fmt.Sprintf("account:%s:%s", accountRef, kind)
}

// CreateAccount inserts a directory row. Accounts are unique per
// (accountRef, kind) pair and immutable once created.
func (d Datasource) CreateAccount(ctx context.Context, account model.LedgerAccount) (model.LedgerAccount, error) {
	metaDataJSON, err := json.Marshal(account.MetaData)
	if err != nil {
		return model.LedgerAccount{}, ledgererror.New(ledgererror.ErrUnknownError, "failed to marshal metadata", err)
	}

	account.AccountID = model.GenerateUUIDWithSuffix("acc")
	account.CreatedAt = time.Now()

	err = d.Conn.QueryRowContext(ctx, `
		INSERT INTO tally.accounts (account_id, account_ref, ledger, kind, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, account.AccountID, account.AccountRef, int64(account.Ledger), account.Kind, account.CreatedAt, metaDataJSON).Scan(&account.ID)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return model.LedgerAccount{}, ledgererror.New(ledgererror.ErrAccountAlreadyExists,
					fmt.Sprintf("account %q of kind %s already exists", account.AccountRef, account.Kind), err)
			case "foreign_key_violation":
				return model.LedgerAccount{}, ledgererror.New(ledgererror.ErrUnknownAsset,
					fmt.Sprintf("ledger %d does not reference a known asset", account.Ledger), err)
			}
		}
		return model.LedgerAccount{}, ledgererror.New(ledgererror.ErrUnknownError, "failed to create account", err)
	}

	return account, nil
}

// GetAccount looks up a directory row by reference and kind. A missing
// account returns (nil, nil) so callers can distinguish absence from
// storage failure. Rows never change, so hits are cached.
func (d Datasource) GetAccount(ctx context.Context, accountRef string, kind model.AccountKind) (*model.LedgerAccount, error) {
	key := accountCacheKey(accountRef, kind)
	if d.Cache != nil {
		cached := model.LedgerAccount{}
		if err := d.Cache.Get(ctx, key, &cached); err == nil && cached.AccountID != "" {
			return &cached, nil
		}
	}

	account, err := d.getAccount(ctx, `WHERE account_ref = $1 AND kind = $2`, accountRef, string(kind))
	if err != nil || account == nil {
		return account, err
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, key, account, accountCacheTTL); err != nil {
			return account, nil
		}
	}
	return account, nil
}

func (d Datasource) GetAccountByID(ctx context.Context, id string) (*model.LedgerAccount, error) {
	return d.getAccount(ctx, `WHERE account_id = $1`, id)
}

func (d Datasource) getAccount(ctx context.Context, where string, args ...interface{}) (*model.LedgerAccount, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, account_id, account_ref, ledger, kind, created_at, meta_data
		FROM tally.accounts
	`+where, args...)

	account := model.LedgerAccount{}
	var metaDataJSON []byte
	var ledger int64
	err := row.Scan(&account.ID, &account.AccountID, &account.AccountRef, &ledger, &account.Kind, &account.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to retrieve account", err)
	}
	account.Ledger = uint32(ledger)

	if err := json.Unmarshal(metaDataJSON, &account.MetaData); err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to unmarshal metadata", err)
	}

	return &account, nil
}

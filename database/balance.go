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

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

// rowQueryer lets the balance aggregate run on the pool or inside an open
// transaction, where transfer creation needs it under the account locks.
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// balanceQuery derives the four balance fields in one pass over the
// transfers table. A PENDING transfer counts only until its expiry; expiry
// is never written back, it simply stops counting.
const balanceQuery = `
	SELECT
		COALESCE(SUM(amount) FILTER (WHERE credit_account_id = $1 AND state = 'POSTED'), 0)::bigint,
		COALESCE(SUM(amount) FILTER (WHERE credit_account_id = $1 AND state = 'PENDING' AND (expires_at IS NULL OR expires_at > NOW())), 0)::bigint,
		COALESCE(SUM(amount) FILTER (WHERE debit_account_id = $1 AND state = 'POSTED'), 0)::bigint,
		COALESCE(SUM(amount) FILTER (WHERE debit_account_id = $1 AND state = 'PENDING' AND (expires_at IS NULL OR expires_at > NOW())), 0)::bigint
	FROM tally.transfers
	WHERE credit_account_id = $1 OR debit_account_id = $1
`

func accountBalance(ctx context.Context, q rowQueryer, accountID string) (*model.AccountBalance, error) {
	var creditsPosted, creditsPending, debitsPosted, debitsPending int64
	err := q.QueryRowContext(ctx, balanceQuery, accountID).
		Scan(&creditsPosted, &creditsPending, &debitsPosted, &debitsPending)
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to derive account balance", err)
	}

	return &model.AccountBalance{
		AccountID:      accountID,
		CreditsPosted:  uint64(creditsPosted),
		CreditsPending: uint64(creditsPending),
		DebitsPosted:   uint64(debitsPosted),
		DebitsPending:  uint64(debitsPending),
	}, nil
}

// GetAccountBalance derives the balance of one account from its transfer
// history. Nothing is read from a stored total; the transfers are the
// single source of truth.
func (d Datasource) GetAccountBalance(ctx context.Context, account *model.LedgerAccount) (*model.AccountBalance, error) {
	return accountBalance(ctx, d.Conn, account.AccountID)
}

// GetAccountsBalances derives balances for several accounts, preserving
// input order.
func (d Datasource) GetAccountsBalances(ctx context.Context, accounts []*model.LedgerAccount) ([]*model.AccountBalance, error) {
	balances := make([]*model.AccountBalance, 0, len(accounts))
	for _, account := range accounts {
		b, err := accountBalance(ctx, d.Conn, account.AccountID)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, nil
}

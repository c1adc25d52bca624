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

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/internal/notification"
	"github.com/tallyfinance/tally/model"
)

// GetBalance derives the four balance fields of an account from its
// transfer history. An unknown account returns (nil, nil).
func (l *Tally) GetBalance(ctx context.Context, accountRef string, kind model.AccountKind) (*model.AccountBalance, error) {
	account, err := l.datasource.GetAccount(ctx, accountRef, kind)
	if err != nil || account == nil {
		return nil, err
	}
	return l.backend.GetAccountBalance(ctx, account)
}

// GetTotalSent returns the posted debit total of an account, nil when the
// account is unknown.
func (l *Tally) GetTotalSent(ctx context.Context, accountRef string, kind model.AccountKind) (*uint64, error) {
	totals, err := l.GetAccountsTotalSent(ctx, []string{accountRef}, kind)
	if err != nil {
		return nil, err
	}
	return totals[0], nil
}

// GetTotalReceived returns the posted credit total of an account, nil when
// the account is unknown.
func (l *Tally) GetTotalReceived(ctx context.Context, accountRef string, kind model.AccountKind) (*uint64, error) {
	totals, err := l.GetAccountsTotalReceived(ctx, []string{accountRef}, kind)
	if err != nil {
		return nil, err
	}
	return totals[0], nil
}

// GetAccountsTotalSent derives posted debit totals for several accounts at
// once. The result preserves input order; unknown references yield nil
// entries rather than failing the whole lookup.
func (l *Tally) GetAccountsTotalSent(ctx context.Context, accountRefs []string, kind model.AccountKind) ([]*uint64, error) {
	return l.accountsTotals(ctx, accountRefs, kind, func(b *model.AccountBalance) uint64 {
		return b.DebitsPosted
	})
}

// GetAccountsTotalReceived derives posted credit totals for several
// accounts at once, preserving input order with nil for unknown references.
func (l *Tally) GetAccountsTotalReceived(ctx context.Context, accountRefs []string, kind model.AccountKind) ([]*uint64, error) {
	return l.accountsTotals(ctx, accountRefs, kind, func(b *model.AccountBalance) uint64 {
		return b.CreditsPosted
	})
}

func (l *Tally) accountsTotals(ctx context.Context, accountRefs []string, kind model.AccountKind, project func(*model.AccountBalance) uint64) ([]*uint64, error) {
	totals := make([]*uint64, len(accountRefs))

	// Unknown refs keep their nil slot; known accounts are queried in one
	// backend round trip.
	known := make([]*model.LedgerAccount, 0, len(accountRefs))
	slots := make([]int, 0, len(accountRefs))
	for i, ref := range accountRefs {
		account, err := l.datasource.GetAccount(ctx, ref, kind)
		if err != nil {
			return nil, err
		}
		if account == nil {
			continue
		}
		known = append(known, account)
		slots = append(slots, i)
	}

	if len(known) == 0 {
		return totals, nil
	}

	balances, err := l.backend.GetAccountsBalances(ctx, known)
	if err != nil {
		return nil, err
	}
	for i, b := range balances {
		v := project(b)
		totals[slots[i]] = &v
	}
	return totals, nil
}

// CreateMonitor registers a threshold monitor on an account. Monitors fire
// a monitor.triggered webhook whenever a settled transfer moves the watched
// projection across the threshold.
func (l *Tally) CreateMonitor(ctx context.Context, monitor model.ThresholdMonitor) (*model.ThresholdMonitor, error) {
	err := validation.ValidateStruct(&monitor.Condition,
		validation.Field(&monitor.Condition.Field, validation.Required, validation.In(
			model.MonitorTotalSent, model.MonitorTotalReceived, model.MonitorAvailable)),
		validation.Field(&monitor.Condition.Operator, validation.Required, validation.In(">", "<", ">=", "<=", "=", "==")),
	)
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrInvalidId, err.Error(), nil)
	}

	account, err := l.datasource.GetAccountByID(ctx, monitor.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownSourceAccount, "monitored account does not exist", nil)
	}

	created, err := l.datasource.CreateMonitor(ctx, monitor)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (l *Tally) GetMonitor(ctx context.Context, monitorID string) (*model.ThresholdMonitor, error) {
	return l.datasource.GetMonitorByID(ctx, monitorID)
}

func (l *Tally) UpdateMonitor(ctx context.Context, monitor *model.ThresholdMonitor) error {
	return l.datasource.UpdateMonitor(ctx, monitor)
}

func (l *Tally) DeleteMonitor(ctx context.Context, monitorID string) error {
	return l.datasource.DeleteMonitor(ctx, monitorID)
}

// checkMonitors evaluates every monitor attached to the given accounts
// against their fresh balances and fires a webhook for each condition that
// holds. Failures are reported, never propagated; settlement has already
// happened by the time monitors run.
func (l *Tally) checkMonitors(ctx context.Context, accounts ...*model.LedgerAccount) {
	for _, account := range accounts {
		if account == nil {
			continue
		}
		monitors, err := l.datasource.GetMonitorsByAccount(ctx, account.AccountID)
		if err != nil {
			notification.NotifyError(err)
			continue
		}
		if len(monitors) == 0 {
			continue
		}

		balance, err := l.backend.GetAccountBalance(ctx, account)
		if err != nil {
			notification.NotifyError(err)
			continue
		}

		for i := range monitors {
			monitor := monitors[i]
			if monitor.CheckCondition(balance) {
				err := l.SendWebhook(ctx, NewWebhook{Event: "monitor.triggered", Payload: map[string]interface{}{
					"monitor": monitor,
					"balance": balance,
				}})
				if err != nil {
					notification.NotifyError(err)
				}
			}
		}
	}
}

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
	"time"

	"github.com/tallyfinance/tally/internal/ledgererror"
	"github.com/tallyfinance/tally/model"
)

func (d Datasource) CreateMonitor(ctx context.Context, monitor model.ThresholdMonitor) (model.ThresholdMonitor, error) {
	monitor.MonitorID = model.GenerateUUIDWithSuffix("mon")
	monitor.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO tally.threshold_monitors (monitor_id, account_id, field, operator, value, description, call_back_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, monitor.MonitorID, monitor.AccountID, monitor.Condition.Field, monitor.Condition.Operator,
		int64(monitor.Condition.Value), monitor.Description, monitor.CallbackURL, monitor.CreatedAt)
	if err != nil {
		return model.ThresholdMonitor{}, ledgererror.New(ledgererror.ErrUnknownError, "failed to create monitor", err)
	}

	return monitor, nil
}

func (d Datasource) GetMonitorByID(ctx context.Context, id string) (*model.ThresholdMonitor, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT monitor_id, account_id, field, operator, value, description, call_back_url, created_at
		FROM tally.threshold_monitors
		WHERE monitor_id = $1
	`, id)

	monitor, err := scanMonitor(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledgererror.New(ledgererror.ErrUnknownError, "monitor not found", nil)
		}
		return nil, err
	}
	return monitor, nil
}

func (d Datasource) GetMonitorsByAccount(ctx context.Context, accountID string) ([]model.ThresholdMonitor, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT monitor_id, account_id, field, operator, value, description, call_back_url, created_at
		FROM tally.threshold_monitors
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to retrieve monitors", err)
	}
	defer rows.Close()

	monitors := []model.ThresholdMonitor{}
	for rows.Next() {
		monitor, err := scanMonitor(rows.Scan)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, *monitor)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "error iterating over monitors", err)
	}
	return monitors, nil
}

func (d Datasource) UpdateMonitor(ctx context.Context, monitor *model.ThresholdMonitor) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE tally.threshold_monitors
		SET field = $2, operator = $3, value = $4, description = $5, call_back_url = $6
		WHERE monitor_id = $1
	`, monitor.MonitorID, monitor.Condition.Field, monitor.Condition.Operator,
		int64(monitor.Condition.Value), monitor.Description, monitor.CallbackURL)
	if err != nil {
		return ledgererror.New(ledgererror.ErrUnknownError, "failed to update monitor", err)
	}
	return nil
}

func (d Datasource) DeleteMonitor(ctx context.Context, id string) error {
	_, err := d.Conn.ExecContext(ctx, `
		DELETE FROM tally.threshold_monitors
		WHERE monitor_id = $1
	`, id)
	if err != nil {
		return ledgererror.New(ledgererror.ErrUnknownError, "failed to delete monitor", err)
	}
	return nil
}

func scanMonitor(scan func(dest ...interface{}) error) (*model.ThresholdMonitor, error) {
	monitor := model.ThresholdMonitor{}
	var value int64
	err := scan(&monitor.MonitorID, &monitor.AccountID, &monitor.Condition.Field, &monitor.Condition.Operator,
		&value, &monitor.Description, &monitor.CallbackURL, &monitor.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to scan monitor", err)
	}
	monitor.Condition.Value = uint64(value)
	return &monitor, nil
}

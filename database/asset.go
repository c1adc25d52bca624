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

// CreateAsset registers a new asset. The row id doubles as the ledger
// number every account denominated in this asset carries.
func (d Datasource) CreateAsset(ctx context.Context, asset model.Asset) (model.Asset, error) {
	metaDataJSON, err := json.Marshal(asset.MetaData)
	if err != nil {
		return model.Asset{}, ledgererror.New(ledgererror.ErrUnknownError, "failed to marshal metadata", err)
	}

	asset.AssetID = model.GenerateUUIDWithSuffix("ast")
	asset.CreatedAt = time.Now()

	err = d.Conn.QueryRowContext(ctx, `
		INSERT INTO tally.assets (asset_id, code, scale, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, asset.AssetID, asset.Code, asset.Scale, asset.CreatedAt, metaDataJSON).Scan(&asset.ID)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return model.Asset{}, ledgererror.New(ledgererror.ErrAssetAlreadyExists,
				fmt.Sprintf("asset with code %q and scale %d already exists", asset.Code, asset.Scale), err)
		}
		return model.Asset{}, ledgererror.New(ledgererror.ErrUnknownError, "failed to create asset", err)
	}

	asset.Ledger = uint32(asset.ID)
	return asset, nil
}

func (d Datasource) GetAssetByID(ctx context.Context, id string) (*model.Asset, error) {
	return d.getAsset(ctx, `WHERE asset_id = $1`, id)
}

func (d Datasource) GetAssetByLedger(ctx context.Context, ledger uint32) (*model.Asset, error) {
	return d.getAsset(ctx, `WHERE id = $1`, int64(ledger))
}

func (d Datasource) GetAssetByCodeAndScale(ctx context.Context, code string, scale uint8) (*model.Asset, error) {
	return d.getAsset(ctx, `WHERE code = $1 AND scale = $2`, code, scale)
}

func (d Datasource) getAsset(ctx context.Context, where string, args ...interface{}) (*model.Asset, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, asset_id, code, scale, created_at, meta_data
		FROM tally.assets
	`+where, args...)

	asset := model.Asset{}
	var metaDataJSON []byte
	err := row.Scan(&asset.ID, &asset.AssetID, &asset.Code, &asset.Scale, &asset.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledgererror.New(ledgererror.ErrUnknownAsset, "asset not found", nil)
		}
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to retrieve asset", err)
	}

	if err := json.Unmarshal(metaDataJSON, &asset.MetaData); err != nil {
		return nil, ledgererror.New(ledgererror.ErrUnknownError, "failed to unmarshal metadata", err)
	}

	asset.Ledger = uint32(asset.ID)
	return &asset, nil
}

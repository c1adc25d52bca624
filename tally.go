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

// Package tally is a double-entry accounting engine for Interledger and
// Open Payments deployments. Accounts live in a relational directory;
// transfers and derived balances are handled by a pluggable ledger backend,
// either the same Postgres database or a TigerBeetle cluster.
package tally

import (
	"context"
	"embed"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	"github.com/tallyfinance/tally/internal/notification"
	redis_db "github.com/tallyfinance/tally/internal/redis-db"
	"github.com/tallyfinance/tally/ledger"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("tally")

// Tally is the engine facade. All operations go through it.
type Tally struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	backend    ledger.Backend
}

// NewTally wires the facade from the account directory and the configured
// transfer backend. System errors raised through the notification package
// are routed to the webhook queue.
func NewTally(db database.IDataSource, backend ledger.Backend) (*Tally, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newTally := &Tally{datasource: db, backend: backend, queue: newQueue, redis: redisClient.Client()}
	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return newTally.SendWebhook(context.Background(), NewWebhook{Event: event, Payload: payload})
	})
	return newTally, nil
}

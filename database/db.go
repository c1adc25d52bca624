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
	"database/sql"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/tallyfinance/tally/cache"
	"github.com/tallyfinance/tally/config"
)

var (
	instance *Datasource
	once     sync.Once
)

// Datasource is the Postgres-backed store. It persists the account
// directory for every deployment and doubles as the transfer backend when
// the ledger backend is configured as postgres.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	return GetDBConnection(configuration)
}

// GetDBConnection initializes the shared datasource on first use and hands
// out the same instance afterwards.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		cacheInstance, errCache := cache.NewCache()
		if errCache != nil {
			// The cache only fronts account directory reads; run without it
			// rather than fail startup.
			logrus.WithError(errCache).Warn("cache unavailable, account lookups go straight to the database")
		}
		instance = &Datasource{Conn: con, Cache: cacheInstance}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens a Postgres connection and pings it with exponential
// backoff, giving the database time to come up when both start together.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err = backoff.RetryNotify(db.Ping, bo, func(err error, next time.Duration) {
		logrus.WithError(err).Warnf("database not ready, retrying in %s", next)
	})
	if err != nil {
		logrus.WithError(err).Error("database connection failed")
		return nil, err
	}
	return db, nil
}

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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	// BackendPostgres derives balances from the transfers table inside the
	// relational store. BackendTigerBeetle delegates transfers and balances
	// to a TigerBeetle cluster; the account directory stays relational.
	BackendPostgres    = "postgres"
	BackendTigerBeetle = "tigerbeetle"

	DEFAULT_WEBHOOK_QUEUE = "new:webhook"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"TALLY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"TALLY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"TALLY_REDIS_SKIP_TLS_VERIFY"`
}

type LedgerConfig struct {
	Backend string `json:"backend" envconfig:"TALLY_LEDGER_BACKEND"`
}

type TigerBeetleConfig struct {
	ClusterID uint64   `json:"cluster_id" envconfig:"TALLY_TIGERBEETLE_CLUSTER_ID"`
	Addresses []string `json:"addresses" envconfig:"TALLY_TIGERBEETLE_ADDRESSES"`
}

type QueueConfig struct {
	WebhookQueue     string `json:"webhook_queue" envconfig:"TALLY_QUEUE_WEBHOOK"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"TALLY_QUEUE_MAX_RETRY_ATTEMPTS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"TALLY_PROJECT_NAME"`
	DataSource   DataSourceConfig  `json:"data_source"`
	Redis        RedisConfig       `json:"redis"`
	Ledger       LedgerConfig      `json:"ledger"`
	TigerBeetle  TigerBeetleConfig `json:"tigerbeetle"`
	Queue        QueueConfig       `json:"queue"`
	Notification Notification      `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("tally", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called tally.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Tally Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Ledger.Backend == "" {
		cnf.Ledger.Backend = BackendPostgres
	}
	switch cnf.Ledger.Backend {
	case BackendPostgres:
	case BackendTigerBeetle:
		if len(cnf.TigerBeetle.Addresses) == 0 {
			log.Println("Error: TigerBeetle backend selected but no addresses configured.")
			return errors.New("tigerbeetle addresses are required")
		}
	default:
		return errors.New("ledger backend must be postgres or tigerbeetle")
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}

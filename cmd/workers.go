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

package main

import (
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	tally "github.com/tallyfinance/tally"
	"github.com/tallyfinance/tally/config"
	redis_db "github.com/tallyfinance/tally/internal/redis-db"
)

func initializeQueues(cfg *config.Configuration) map[string]int {
	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

// workerCommands starts the asynq worker that delivers queued webhook
// notifications.
func workerCommands(b *tallyInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start tally workers",
		Run: func(cmd *cobra.Command, args []string) {
			queues := initializeQueues(b.cnf)

			srv, err := initializeWorkerServer(b.cnf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(b.cnf.Queue.WebhookQueue, tally.ProcessWebhook)

			log.Println(" [*] Starting webhook worker")
			if err := srv.Run(mux); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}

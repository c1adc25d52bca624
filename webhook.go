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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/internal/request"
	"github.com/tallyfinance/tally/model"
)

// NewWebhook is one notification handed to the configured endpoint.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

func transferEvent(state model.TransferState) string {
	switch state {
	case model.StatePending:
		return "transfer.pending"
	case model.StatePosted:
		return "transfer.posted"
	case model.StateVoided:
		return "transfer.voided"
	default:
		return "transfer.unknown"
	}
}

// SendWebhook enqueues a notification for asynchronous delivery. It is a
// no-op when no webhook endpoint is configured.
func (l *Tally) SendWebhook(ctx context.Context, newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	return l.queue.queueWebhook(ctx, newWebhook)
}

// processHTTP delivers one webhook notification, retrying transient
// failures with exponential backoff before the task is handed back to the
// queue for a scheduled retry.
func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(&data)
	if err != nil {
		return err
	}

	// The body is rebuilt per attempt; a drained buffer cannot be resent.
	deliver := func() error {
		req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, bytes.NewBuffer(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		for key, value := range conf.Notification.Webhook.Headers {
			req.Header.Set(key, value)
		}

		var response map[string]interface{}
		resp, err := request.Call(req, &response)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook delivery failed with status %d", resp.StatusCode)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(deliver, bo)
}

// ProcessWebhook is the asynq handler the worker process registers for the
// webhook queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %+v", payload.Event)
	return processHTTP(payload)
}

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

package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tallyfinance/tally/internal/request"

	"github.com/tallyfinance/tally/config"
)

// WebhookSender delivers an event payload to the configured webhook
// endpoint. The queue layer registers its sender here at startup so this
// package can dispatch without importing it.
type WebhookSender func(event string, payload interface{}) error

var webhookSender WebhookSender

// RegisterWebhookSender installs the webhook dispatch function. A later
// registration replaces an earlier one.
func RegisterWebhookSender(sender WebhookSender) {
	webhookSender = sender
}

// SlackNotification posts the error to the configured Slack webhook.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Tally 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, err.Error(), time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		logrus.Error(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		logrus.Error(err)
		return
	}

	var response map[string]interface{}
	_, err = request.Call(req, &response)
	if err != nil {
		logrus.Error(err)
	}
}

// NotifyError logs the error and dispatches it to Slack when a webhook is
// configured. The work happens on a goroutine so callers never block on a
// slow notification channel.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}

		if webhookSender != nil && conf.Notification.Webhook.Url != "" {
			if err := webhookSender("system.error", map[string]interface{}{
				"error": systemError.Error(),
				"time":  time.Now().Format(time.RFC3339),
			}); err != nil {
				logrus.Error(err)
			}
		}
	}(systemError)
}

// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// webhookNavigator delivers navigation requests to the embedding shell as
// JSON webhooks. The shell owns the actual navigation; the daemon only asks.
type webhookNavigator struct {
	url    string
	client *http.Client
}

func newWebhookNavigator(url string, timeout time.Duration) *webhookNavigator {
	return &webhookNavigator{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type navigateRequest struct {
	Action    string `json:"action"`
	CacheBust bool   `json:"cacheBust,omitempty"`
}

func (n *webhookNavigator) post(ctx context.Context, reqBody navigateRequest) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode navigate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build navigate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("navigate webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("navigate webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (n *webhookNavigator) Reload(ctx context.Context, cacheBust bool) error {
	return n.post(ctx, navigateRequest{Action: "reload", CacheBust: cacheBust})
}

func (n *webhookNavigator) GoHome(ctx context.Context) error {
	return n.post(ctx, navigateRequest{Action: "home"})
}

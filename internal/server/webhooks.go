package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"canopy/internal/config"
	"canopy/internal/domain"
	"canopy/internal/risk"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher forwards persisted alerts to configured endpoints.
// Each hook keeps its own cursor over the alert log; the monitor pings
// Notify so fresh alerts go out without waiting for the poll interval.
type webhookDispatcher struct {
	engine   risk.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	wake     chan struct{}
	mu       sync.Mutex
	cursors  map[int]int64
}

func startWebhookDispatcher(e risk.Engine) func() {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		wake:     make(chan struct{}, 1),
		cursors:  make(map[int]int64),
	}
	go d.run()
	return d.notify
}

func (d *webhookDispatcher) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		select {
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	alerts, seqs, err := d.engine.Repo.AlertsAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		log.Printf("webhook: fetch alerts failed: %v", err)
		return
	}
	if len(alerts) == 0 {
		return
	}
	filter := newAlertFilter(hook.Events)
	for i, alert := range alerts {
		if !filter.match(string(alert.Type)) {
			d.setCursor(idx, seqs[i])
			continue
		}
		if err := d.postAlert(ctx, hook, alert, seqs[i]); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, seqs[i])
	}
}

func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestAlertSeq(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookAlert struct {
	Seq            int64  `json:"seq"`
	ID             string `json:"id"`
	JobID          string `json:"job_id"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	ActionRequired bool   `json:"action_required"`
	CreatedAt      string `json:"created_at"`
}

func (d *webhookDispatcher) postAlert(ctx context.Context, hook config.WebhookConfig, alert domain.Alert, seq int64) error {
	body := webhookAlert{
		Seq:            seq,
		ID:             alert.ID,
		JobID:          alert.JobID,
		Type:           string(alert.Type),
		Severity:       string(alert.Severity),
		Message:        alert.Message,
		ActionRequired: alert.ActionRequired,
		CreatedAt:      alert.CreatedAt,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Canopy-Alert", string(alert.Type))
	req.Header.Set("X-Canopy-Delivery", fmt.Sprintf("%d", seq))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Canopy-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type alertFilter struct {
	all bool
	set map[string]struct{}
}

func newAlertFilter(types []string) alertFilter {
	if len(types) == 0 {
		return alertFilter{all: true}
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		key := strings.TrimSpace(t)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return alertFilter{all: true}
	}
	return alertFilter{set: set}
}

func (f alertFilter) match(t string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}

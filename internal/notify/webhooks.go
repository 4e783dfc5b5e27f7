package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"aurora/internal/config"
	"aurora/internal/domain"
	"aurora/internal/timeline"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// Dispatcher polls the timeline feed and POSTs new entries to webhooks.
// Each hook keeps its own cursor, starting at the newest entry when first seen.
type Dispatcher struct {
	Reader   timeline.Reader
	Webhooks []config.WebhookConfig
	Interval time.Duration
	Logger   *slog.Logger

	client  *http.Client
	mu      sync.Mutex
	cursors map[int]string
}

func NewDispatcher(r timeline.Reader, hooks []config.WebhookConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Reader:   r,
		Webhooks: hooks,
		Interval: defaultWebhookInterval,
		Logger:   logger,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]string),
	}
}

// Run dispatches until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch to every enabled hook.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	entries, err := d.Reader.After(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.Logger.Error("webhook: fetch entries failed", "err", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, e := range entries {
		if !filter.match(EventName(e)) {
			d.setCursor(idx, e.ID)
			continue
		}
		if err := d.post(ctx, hook, e); err != nil {
			d.Logger.Warn("webhook: delivery failed", "url", hook.URL, "entry", e.ID, "err", err)
			return
		}
		d.setCursor(idx, e.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]string)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.Reader.LatestID(ctx)
	if err != nil {
		d.Logger.Error("webhook: init cursor failed", "err", err)
		return "", false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *Dispatcher) setCursor(idx int, id string) {
	d.mu.Lock()
	d.cursors[idx] = id
	d.mu.Unlock()
}

type webhookEntry struct {
	Event string               `json:"event"`
	Entry domain.TimelineEntry `json:"entry"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, e domain.TimelineEntry) error {
	event := EventName(e)
	data, err := json.Marshal(webhookEntry{Event: event, Entry: e})
	if err != nil {
		return err
	}
	client := d.client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Aurora-Event", event)
	req.Header.Set("X-Aurora-Delivery", e.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Aurora-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// eventFilter matches exact event names and "entity_type.*" wildcards.
type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.set[evt[:i]+".*"]
		return ok
	}
	return false
}

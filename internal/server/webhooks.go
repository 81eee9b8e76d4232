package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"foundry/internal/config"
	"foundry/internal/domain"
	"foundry/internal/engine"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookBatch   = 100
	signaturePrefix       = "sha256="
)

// WebhookDispatcher posts new foundry events to the webhooks configured in
// each foundry's policy. Cursors live in memory and start at the latest
// event, so a restart does not replay history.
type WebhookDispatcher struct {
	Engine   engine.Engine
	Settings func() config.ServerSettings
	Logger   *slog.Logger
	Client   *http.Client

	mu      sync.Mutex
	cursors map[string]int64
}

func NewWebhookDispatcher(e engine.Engine, settings func() config.ServerSettings, logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		Engine:   e,
		Settings: settings,
		Logger:   logger,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  map[string]int64{},
	}
}

func (d *WebhookDispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *WebhookDispatcher) interval() time.Duration {
	st := config.DefaultServerSettings()
	if d.Settings != nil {
		st = d.Settings()
	}
	if st.WebhookInterval <= 0 {
		return config.DefaultServerSettings().WebhookInterval
	}
	return st.WebhookInterval
}

// Run dispatches until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := d.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger().WarnContext(ctx, "webhook dispatch", "error", err)
		}
		t.Reset(d.interval())
	}
}

// DispatchOnce delivers pending events for every enabled hook, one
// goroutine per hook. A failed delivery keeps the hook's cursor on the
// failed event so it is retried next round.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) error {
	foundries, err := d.Engine.Repo.ListFoundries(ctx)
	if err != nil {
		return err
	}
	var (
		errMu sync.Mutex
		errs  []error
	)
	wg := conc.NewWaitGroup()
	for _, f := range foundries {
		cfg, err := d.Engine.ConfigFor(ctx, f.ID)
		if err != nil {
			errMu.Lock()
			errs = append(errs, fmt.Errorf("foundry %s: %w", f.ID, err))
			errMu.Unlock()
			continue
		}
		for i, hook := range cfg.Webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			foundryID, index, hook := f.ID, i, hook
			wg.Go(func() {
				if err := d.dispatchHook(ctx, foundryID, index, hook); err != nil {
					errMu.Lock()
					errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
					errMu.Unlock()
				}
			})
		}
	}
	if r := wg.WaitAndRecover(); r != nil {
		errs = append(errs, r.AsError())
	}
	return errors.Join(errs...)
}

// cursorKey identifies one configured hook. The same URL may be listed
// twice with different filters; each entry keeps its own cursor.
func cursorKey(foundryID string, index int, url string) string {
	return foundryID + "|" + strconv.Itoa(index) + "|" + url
}

func (d *WebhookDispatcher) dispatchHook(ctx context.Context, foundryID string, index int, hook config.WebhookConfig) error {
	key := cursorKey(foundryID, index, hook.URL)
	cursor, err := d.cursorFor(ctx, key, foundryID)
	if err != nil {
		return err
	}
	evts, err := d.Engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, foundryID)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if filter.match(evt.Type) {
			if err := d.postEvent(ctx, hook, evt); err != nil {
				return err
			}
			d.logger().DebugContext(ctx, "webhook delivered", "url", hook.URL, "event", evt.Type, "event_id", evt.ID)
		}
		d.setCursor(key, evt.ID)
	}
	return nil
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, key, foundryID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = map[string]int64{}
	}
	if cur, ok := d.cursors[key]; ok {
		return cur, nil
	}
	cur, err := d.Engine.Repo.LatestEventID(ctx, foundryID)
	if err != nil {
		return 0, fmt.Errorf("init cursor: %w", err)
	}
	d.cursors[key] = cur
	return cur, nil
}

func (d *WebhookDispatcher) setCursor(key string, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	FoundryID  string          `json:"foundry_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

// Sign returns the X-Foundry-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an X-Foundry-Signature header against body.
func VerifySignature(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(header)))
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		FoundryID:  evt.FoundryID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			c := *client
			c.Timeout = timeout
			client = &c
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Foundry-Event", evt.Type)
	req.Header.Set("X-Foundry-Delivery", strconv.FormatInt(evt.ID, 10))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Foundry-Signature", Sign(hook.Secret, data))
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

type eventFilter struct {
	all bool
	set map[string]struct{}
}

// newEventFilter matches every event when the list is empty. An entry
// ending in ".*" matches a whole family, e.g. "task.*".
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

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/portagehq/portage/internal/logging"
)

// defaultDeliveryTimeout bounds one webhook POST; slow consumers are cut
// off rather than allowed to pile up goroutines.
const defaultDeliveryTimeout = 5 * time.Second

// WebhookOptions configures a Webhook notifier.
type WebhookOptions struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Webhook POSTs each event as JSON to the event's callback URL, falling back
// to a fixed URL. Deliveries run detached from the request that produced
// them.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewWebhook builds a webhook notifier. A nil client falls back to
// http.DefaultClient.
func NewWebhook(opts WebhookOptions) *Webhook {
	w := &Webhook{
		url:     opts.URL,
		client:  opts.Client,
		timeout: opts.Timeout,
		log:     logging.Component("notify"),
	}
	if w.client == nil {
		w.client = http.DefaultClient
	}
	if w.timeout <= 0 {
		w.timeout = defaultDeliveryTimeout
	}
	return w
}

// Notify implements Notifier. The event is stamped and handed to a delivery
// goroutine; the caller's context is deliberately not used, since the
// request finishes before the delivery does. Events with no destination at
// all are dropped.
func (w *Webhook) Notify(_ context.Context, ev Event) {
	url := ev.Callback
	if url == "" {
		url = w.url
	}
	if url == "" {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deliver(url, ev)
	}()
}

func (w *Webhook) deliver(url string, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		w.log.Error().Err(err).Str("event_id", ev.ID).Msg("could not encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		w.log.Error().Err(err).Str("event_id", ev.ID).Msg("could not build delivery request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn().Err(err).Str("event_id", ev.ID).Str("action", ev.Action).Msg("event delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.log.Warn().
			Int("status", resp.StatusCode).
			Str("event_id", ev.ID).
			Str("action", ev.Action).
			Msg("event delivery rejected")
	}
}

// Close waits for in-flight deliveries, up to the delivery timeout.
func (w *Webhook) Close() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.timeout):
	}
}

var _ Notifier = (*Webhook)(nil)

package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/event"
	"github.com/InfiniteLoopAlchemist/wardarr/internal/version"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher posts events to the configured webhooks.
type Dispatcher struct {
	hooks      []Webhook
	httpClient *http.Client
	logger     *slog.Logger
	backoff    time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher. Invalid hooks are logged and
// ignored.
func NewDispatcher(hooks []Webhook, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	logger = logger.With(slog.String("component", "webhook-dispatcher"))

	valid := make([]Webhook, 0, len(hooks))
	for _, h := range hooks {
		if err := h.Validate(); err != nil {
			logger.Warn("ignoring webhook", "error", err)
			continue
		}
		valid = append(valid, h)
	}
	return &Dispatcher{
		hooks:      valid,
		httpClient: httpClient,
		logger:     logger,
		backoff:    time.Second,
	}
}

// Len returns the number of active webhooks.
func (d *Dispatcher) Len() int { return len(d.hooks) }

// HandleEvent is an event.Handler. Each matching webhook is delivered on
// its own goroutine.
func (d *Dispatcher) HandleEvent(e event.Event) {
	for i := range d.hooks {
		w := d.hooks[i]
		if !w.Wants(string(e.Type)) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(w, e)
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(w Webhook, e event.Event) {
	body, contentType := formatPayload(&w, e)

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			time.Sleep(d.backoff << uint(attempt-1))
		}

		lastErr = d.send(w.URL, body, contentType)
		if lastErr == nil {
			d.logger.Debug("webhook delivered",
				"webhook", w.Name,
				"event", string(e.Type),
				"attempt", attempt+1,
			)
			return
		}

		d.logger.Warn("webhook delivery failed",
			"webhook", w.Name,
			"event", string(e.Type),
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	d.logger.Error("webhook delivery exhausted retries",
		"webhook", w.Name,
		"event", string(e.Type),
		"error", lastErr,
	)
}

func (d *Dispatcher) send(url string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "wardarr-webhook/"+version.Version)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// HTTPEmitter sends events to an HTTP endpoint, keeping a local backup.
type HTTPEmitter struct {
	cfg          Config
	client       *http.Client
	heads      *Heads
	backup     *FileBackup
	retryDelay time.Duration
}

// NewHTTPEmitter creates a new HTTP emitter.
func NewHTTPEmitter(cfg Config) (*HTTPEmitter, error) {
	heads, err := OpenHeads(cfg.Dir, cfg.Chain)
	if err != nil {
		return nil, err
	}

	backup, err := NewFileBackup(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &HTTPEmitter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		heads:      heads,
		backup:     backup,
		retryDelay: time.Second,
	}, nil
}

// Emit sends an event to the configured endpoint.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *Event) error {
	e.heads.Link(evt)
	log.Printf("[audit] emitting event for %s seq=%d collection=%s", evt.Collection.ChainKey(), evt.Chain.Seq, evt.Collection.Key)
	if evt.Chain.PrevEventHash == "" {
		log.Printf("[audit] prev_hash=null (first in chain)")
	}

	// The backup is written before the POST.
	if err := e.backup.Save(evt); err != nil {
		log.Printf("[audit] warning: backup failed: %v", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("audit emit failed: %w", err)
	}

	if err := e.heads.Advance(evt); err != nil {
		log.Printf("[audit] warning: failed to update chain head: %v", err)
	}

	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	retries := 3
	delay := e.retryDelay

	for attempt := 1; attempt <= retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < retries {
			log.Printf("[audit] attempt %d/%d failed: %v, retrying in %v", attempt, retries, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	return nil
}

package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/relaydesk/channelhub/internal/config"
	"github.com/relaydesk/channelhub/internal/logger"
)

// Outbox is the durable outbound queue. Enqueue persists a pending record;
// a single background drain goroutine claims due records and delivers them
// sequentially, applying exponential backoff on failure.
type Outbox struct {
	store    Store
	registry *Registry
	monitor  Monitor
	cfg      config.OutboxConfig
	client   *http.Client
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewOutbox(store Store, registry *Registry, monitor Monitor, cfg config.OutboxConfig) *Outbox {
	return &Outbox{
		store:    store,
		registry: registry,
		monitor:  monitor,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.SendTimeout()},
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue persists one outbound message as a pending outbox record and
// returns its id. Delivery happens later in the drain loop (or via
// DrainOnce when the worker is disabled).
func (o *Outbox) Enqueue(ctx context.Context, msg OutboundMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", ErrInvalidPayload, err)
	}
	rec := &OutboxRecord{
		Channel:   msg.Channel,
		AccountID: msg.AccountID,
		PeerKind:  msg.Peer.Kind,
		PeerID:    msg.Peer.ID,
		ThreadID:  msg.ThreadID,
		Payload:   payload,
		Status:    OutboxStatusPending,
		RetryAt:   o.now(),
	}
	id, err := o.store.InsertOutbox(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("%w: enqueue: %v", ErrStorage, err)
	}
	return id, nil
}

// Start launches the background drain loop. Safe to call once; Shutdown
// stops the loop and waits for the in-flight batch to finish.
func (o *Outbox) Start() {
	o.startOnce.Do(func() {
		go o.loop()
	})
}

// Shutdown stops the drain loop. It blocks until the current batch
// completes or ctx expires.
func (o *Outbox) Shutdown(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stop) })
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Outbox) loop() {
	defer close(o.done)
	ticker := time.NewTicker(o.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			if err := o.DrainOnce(context.Background()); err != nil {
				logger.Error("outbox drain", "error", err)
			}
		}
	}
}

// DrainOnce claims one batch of due records and delivers them in order.
// Per-record failures are recorded on the row and do not abort the batch.
func (o *Outbox) DrainOnce(ctx context.Context) error {
	records, err := o.store.ClaimDueOutbox(ctx, o.now(), o.cfg.MaxBatch)
	if err != nil {
		return fmt.Errorf("%w: claim due: %v", ErrStorage, err)
	}
	for _, rec := range records {
		o.deliverRecord(ctx, rec)
	}
	return nil
}

func (o *Outbox) deliverRecord(ctx context.Context, rec *OutboxRecord) {
	err := o.deliver(ctx, rec)
	if err == nil {
		if markErr := o.store.MarkOutboxSent(ctx, rec.ID, o.now()); markErr != nil {
			logger.Error("outbox mark sent", "id", rec.ID, "error", markErr)
		}
		o.monitor.DeliverySucceeded(rec)
		return
	}

	retryCount := rec.RetryCount + 1
	if retryCount >= o.cfg.MaxRetries {
		if markErr := o.store.MarkOutboxFailed(ctx, rec.ID, retryCount, err.Error()); markErr != nil {
			logger.Error("outbox mark failed", "id", rec.ID, "error", markErr)
		}
	} else {
		retryAt := o.now().Add(computeBackoff(retryCount, o.cfg.RetryBase(), o.cfg.RetryMax()))
		if markErr := o.store.MarkOutboxRetry(ctx, rec.ID, retryCount, retryAt, err.Error()); markErr != nil {
			logger.Error("outbox mark retry", "id", rec.ID, "error", markErr)
		}
	}
	o.monitor.DeliveryFailed(rec, err)
}

// deliver attempts one delivery: the provider adapter when the account has
// usable credentials, otherwise the account's generic outbound webhook.
func (o *Outbox) deliver(ctx context.Context, rec *OutboxRecord) error {
	var msg OutboundMessage
	if err := json.Unmarshal(rec.Payload, &msg); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrInvalidPayload, err)
	}

	acc, err := o.store.GetAccount(ctx, rec.Channel, rec.AccountID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: load account: %v", ErrStorage, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout())
	defer cancel()

	if acc != nil {
		if adapter := o.registry.Get(rec.Channel); adapter != nil && adapter.CanSend(acc) {
			if err := adapter.SendOutbound(ctx, OutboundContext{Account: acc, Message: msg, Record: rec}); err != nil {
				return fmt.Errorf("%w: %s adapter: %v", ErrDelivery, adapter.Name(), err)
			}
			return nil
		}
		if acc.OutboundURL != "" {
			return o.postWebhook(ctx, acc, msg)
		}
	}
	return fmt.Errorf("%w: no delivery path for %s/%s", ErrDelivery, rec.Channel, rec.AccountID)
}

// postWebhook delivers via the account's generic outbound webhook: a JSON
// POST with the configured headers and optional bearer token. Any non-2xx
// response counts as failure.
func (o *Outbox) postWebhook(ctx context.Context, acc *Account, msg OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode webhook body: %v", ErrDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, acc.OutboundURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range acc.OutboundHeaders {
		req.Header.Set(k, v)
	}
	if acc.OutboundToken != "" {
		req.Header.Set("Authorization", "Bearer "+acc.OutboundToken)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook post: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}

// computeBackoff returns min(base * 2^max(retryCount, 1), max). The first
// retry therefore waits at least base*2.
func computeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	backoff := base
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

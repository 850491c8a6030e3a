// Package send dispatches generated emails in paced, bounded batches.
package send

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/leadflow/leadflow/internal/lead"
	"github.com/leadflow/leadflow/internal/redact"
)

// errMissingDelivery covers a backend response with fewer statuses than
// items; the unaccounted items must not be silently treated as sent.
var errMissingDelivery = errors.New("send backend returned no status for item")

// Delivery is the per-item outcome of one backend batch call.
type Delivery struct {
	MessageID string
	Err       error
}

// Backend submits one batch to the sending service and reports per-item
// accept/reject status in request order. A transport-level error applies to
// every item in the batch.
type Backend interface {
	SendBatch(ctx context.Context, batch []lead.GeneratedEmail) ([]Delivery, error)
}

type Options struct {
	// BatchSize is the number of items dispatched per backend call.
	BatchSize int
	// PacingInterval is the minimum delay between consecutive batches.
	// It is never applied after the last batch.
	PacingInterval time.Duration
	// MaxRetries is the per-item retry bound before an item is marked failed.
	MaxRetries int
	// RetryBackoff is the sleep between attempts of the same batch.
	RetryBackoff time.Duration

	// Sleep overrides the pacing sleep, for tests. nil means a
	// context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 5
	}
	if o.PacingInterval < 0 {
		o.PacingInterval = 0
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Batcher drives a Backend in fixed-size, paced batches.
type Batcher struct {
	backend Backend
	opts    Options
}

func NewBatcher(backend Backend, opts Options) *Batcher {
	return &Batcher{backend: backend, opts: opts.withDefaults()}
}

// Send dispatches all items and returns one SendResult per item, in input
// order. Items with an empty recipient, subject, or body are skipped
// without a backend call. Once the context is cancelled no new batch
// starts; the in-flight batch completes and every remaining item is
// recorded as skipped. The ctx error, if any, is returned so the caller
// can distinguish a cancelled run from a completed one.
func (b *Batcher) Send(ctx context.Context, items []lead.GeneratedEmail) ([]lead.SendResult, error) {
	results := make([]lead.SendResult, len(items))

	// Pre-validate and keep only sendable item indexes.
	var pending []int
	for i, item := range items {
		results[i] = lead.SendResult{RecordID: item.RecordID, Recipient: item.Recipient}
		if strings.TrimSpace(item.Recipient) == "" ||
			strings.TrimSpace(item.Subject) == "" ||
			strings.TrimSpace(item.Body) == "" {
			results[i].Outcome = lead.OutcomeSkipped
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += b.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			for _, idx := range pending[start:] {
				results[idx].Outcome = lead.OutcomeSkipped
			}
			return results, err
		}
		if start > 0 {
			if err := b.opts.Sleep(ctx, b.opts.PacingInterval); err != nil {
				for _, idx := range pending[start:] {
					results[idx].Outcome = lead.OutcomeSkipped
				}
				return results, err
			}
		}

		end := start + b.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		b.sendBatch(ctx, items, results, pending[start:end])
	}

	return results, ctx.Err()
}

// sendBatch dispatches one batch, retrying transient per-item failures up
// to the retry bound. Outcomes are written into results.
func (b *Batcher) sendBatch(ctx context.Context, items []lead.GeneratedEmail, results []lead.SendResult, idxs []int) {
	remaining := idxs
	attempts := 1 + b.opts.MaxRetries

	for attempt := 1; attempt <= attempts && len(remaining) > 0; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, b.opts.RetryBackoff); err != nil {
				break
			}
		}

		batch := make([]lead.GeneratedEmail, len(remaining))
		for i, idx := range remaining {
			batch[i] = items[idx]
			results[idx].Attempts = attempt
		}

		deliveries, err := b.backend.SendBatch(ctx, batch)
		if err != nil {
			// Transport failure hits every item in the batch.
			deliveries = make([]Delivery, len(batch))
			for i := range deliveries {
				deliveries[i] = Delivery{Err: err}
			}
		}

		var retry []int
		for i, idx := range remaining {
			d := Delivery{Err: errMissingDelivery}
			if i < len(deliveries) {
				d = deliveries[i]
			}
			switch {
			case d.Err == nil:
				results[idx].Outcome = lead.OutcomeSent
				results[idx].MessageID = d.MessageID
				results[idx].Error = ""
			case lead.IsTransient(d.Err) && attempt < attempts:
				retry = append(retry, idx)
			default:
				results[idx].Outcome = lead.OutcomeFailed
				results[idx].Error = redact.Secrets(d.Err.Error())
			}
		}
		remaining = retry
	}

	// Retries exhausted by context cancellation mid-batch.
	for _, idx := range remaining {
		if results[idx].Outcome == "" {
			results[idx].Outcome = lead.OutcomeFailed
			results[idx].Error = "retries interrupted"
		}
	}
}

// Package pipeline orchestrates the four outreach stages over run-scoped
// state: search, enrich, generate, send.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow/internal/lead"
	"github.com/leadflow/leadflow/internal/pipeline/worker"
	"github.com/leadflow/leadflow/internal/redact"
	"github.com/rs/zerolog"
)

// State is the orchestrator's lifecycle position. Transitions are
// sequential and one-directional; Error and Cancelled are terminal.
type State string

const (
	StateIdle       State = "idle"
	StateSearching  State = "searching"
	StateEnriching  State = "enriching"
	StateGenerating State = "generating"
	StateSending    State = "sending"
	StateDone       State = "done"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// Snapshot is the pull-based progress view for the presentation layer.
// Reads are eventually consistent with in-flight stage work.
type Snapshot struct {
	RunID      string
	State      State
	Total      int
	Succeeded  int
	Failed     int
	InProgress int
	Err        string
}

// SearchSource yields search result pages. *apollo.Pager satisfies it.
type SearchSource interface {
	More() bool
	Next(ctx context.Context) ([]lead.Record, error)
}

// Enricher resolves enrichment data for record IDs, reporting failures
// per ID rather than all-or-nothing.
type Enricher interface {
	Enrich(ctx context.Context, ids []string) (map[string]lead.Enrichment, []string, error)
}

// EmailGenerator produces one email per record, independently per record.
type EmailGenerator interface {
	GenerateAll(ctx context.Context, recs []lead.Record, product lead.ProductContext, opts worker.Options) ([]worker.Result[lead.Record, lead.GeneratedEmail], error)
}

// Sender dispatches generated emails and returns input-ordered results.
type Sender interface {
	Send(ctx context.Context, items []lead.GeneratedEmail) ([]lead.SendResult, error)
}

// Deps wires the stage implementations into a run.
type Deps struct {
	// NewSearch constructs a fresh page iterator; called once per run so
	// a run restart re-searches from scratch.
	NewSearch func() SearchSource
	Enricher  Enricher
	Generator EmailGenerator
	Sender    Sender

	// GenerateWorker bounds generation concurrency and retries.
	GenerateWorker worker.Options

	Logger zerolog.Logger
}

// Run holds one pipeline execution's entire state. Nothing outlives it;
// durable storage is the caller's concern (export, typically).
type Run struct {
	id   string
	deps Deps
	log  zerolog.Logger

	mu           sync.Mutex
	state        State
	prog         Snapshot
	records      []lead.Record
	seeded       bool
	enrichFailed map[string]string
	genFailed    map[string]string
	emails       map[string]lead.GeneratedEmail
	emailOrder   []string
	results      []lead.SendResult
	err          error

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewRun creates an idle run that will search for its records.
func NewRun(deps Deps) *Run {
	id := uuid.NewString()
	return &Run{
		id:           id,
		deps:         deps,
		log:          deps.Logger.With().Str("run_id", id).Logger(),
		state:        StateIdle,
		enrichFailed: make(map[string]string),
		genFailed:    make(map[string]string),
		emails:       make(map[string]lead.GeneratedEmail),
	}
}

// NewRunFromRecords creates a run seeded with a caller-selected subset of
// previously fetched records. The search stage passes the seeds through
// untouched.
func NewRunFromRecords(deps Deps, recs []lead.Record) *Run {
	r := NewRun(deps)
	r.records = append([]lead.Record(nil), recs...)
	r.seeded = true
	return r
}

// ID returns the run identifier used in logs and exports.
func (r *Run) ID() string { return r.id }

// Cancel requests cooperative cancellation. In-flight calls complete; no
// new page, chunk, or batch starts afterwards.
func (r *Run) Cancel() {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Snapshot returns the current progress view.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.prog
	s.RunID = r.id
	s.State = r.state
	if r.err != nil {
		s.Err = redact.Secrets(r.err.Error())
	}
	return s
}

// Records returns a copy of the run's record collection.
func (r *Run) Records() []lead.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lead.Record(nil), r.records...)
}

// Emails returns the generated emails in record order.
func (r *Run) Emails() []lead.GeneratedEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]lead.GeneratedEmail, 0, len(r.emailOrder))
	for _, id := range r.emailOrder {
		out = append(out, r.emails[id])
	}
	return out
}

// Results returns the send results, one per dispatched email, input order.
func (r *Run) Results() []lead.SendResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lead.SendResult(nil), r.results...)
}

// FailureReasons returns per-record failure reasons from the enrich and
// generate stages, keyed by record ID.
func (r *Run) FailureReasons() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.enrichFailed)+len(r.genFailed))
	for id, reason := range r.enrichFailed {
		out[id] = reason
	}
	for id, reason := range r.genFailed {
		out[id] = reason
	}
	return out
}

// Execute drives every stage in sequence. It returns nil when the run
// reaches Done; a stage-level error (or cancellation) is returned after
// the partial results have been recorded on the run.
func (r *Run) Execute(ctx context.Context, product lead.ProductContext) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()

	start := time.Now()
	r.log.Info().Msg("run start")

	stages := []func(context.Context, lead.ProductContext) error{
		r.searchStage,
		r.enrichStage,
		r.generateStage,
		r.sendStage,
	}
	for _, stage := range stages {
		if err := stage(runCtx, product); err != nil {
			return r.finish(runCtx, err, start)
		}
	}
	return r.finish(runCtx, nil, start)
}

func (r *Run) finish(ctx context.Context, err error, start time.Time) error {
	elapsed := time.Since(start).Round(time.Millisecond)
	switch {
	case err == nil:
		r.setState(StateDone, nil)
		r.log.Info().Dur("duration", elapsed).Msg("run complete")
		return nil
	case isCancelled(ctx, err):
		r.setState(StateCancelled, err)
		r.log.Warn().Dur("duration", elapsed).Msg("run cancelled")
		return err
	default:
		r.setState(StateError, err)
		r.log.Error().Dur("duration", elapsed).Str("error", redact.Secrets(err.Error())).Msg("run failed")
		return err
	}
}

func isCancelled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func (r *Run) setState(s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	if err != nil {
		r.err = err
	}
}

// beginStage transitions state and resets the progress counters.
func (r *Run) beginStage(s State, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.prog = Snapshot{Total: total, InProgress: total}
}

func (r *Run) bumpProgress(succeeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if succeeded {
		r.prog.Succeeded++
	} else {
		r.prog.Failed++
	}
	if r.prog.InProgress > 0 {
		r.prog.InProgress--
	}
}

func (r *Run) searchStage(ctx context.Context, _ lead.ProductContext) error {
	if r.seeded {
		r.beginStage(StateSearching, len(r.records))
		r.mu.Lock()
		r.prog.Succeeded = len(r.records)
		r.prog.InProgress = 0
		r.mu.Unlock()
		r.log.Info().Int("records", len(r.records)).Msg("search skipped: run seeded from prior records")
		return nil
	}

	r.beginStage(StateSearching, 0)
	src := r.deps.NewSearch()
	start := time.Now()
	pages := 0
	for src.More() {
		if err := ctx.Err(); err != nil {
			return &lead.StageError{Stage: lead.StageSearch, Err: err}
		}
		recs, err := src.Next(ctx)
		pages++

		r.mu.Lock()
		r.records = append(r.records, recs...)
		r.prog.Total = len(r.records)
		r.prog.Succeeded = len(r.records)
		r.mu.Unlock()

		if err != nil {
			return &lead.StageError{Stage: lead.StageSearch, Err: err}
		}
	}
	r.log.Info().
		Int("pages", pages).
		Int("records", len(r.Records())).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("search complete")
	return nil
}

func (r *Run) enrichStage(ctx context.Context, _ lead.ProductContext) error {
	records := r.Records()
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	r.beginStage(StateEnriching, len(ids))

	start := time.Now()
	enriched, failed, err := r.deps.Enricher.Enrich(ctx, ids)

	r.mu.Lock()
	for i := range r.records {
		if e, ok := enriched[r.records[i].ID]; ok {
			r.records[i].ApplyEnrichment(e)
		}
	}
	for _, id := range failed {
		r.enrichFailed[id] = "enrichment failed"
	}
	r.prog.Succeeded = len(enriched)
	r.prog.Failed = len(failed)
	r.prog.InProgress = r.prog.Total - len(enriched) - len(failed)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.log.Info().
		Int("enriched", len(enriched)).
		Int("failed", len(failed)).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("enrich complete")
	return nil
}

func (r *Run) generateStage(ctx context.Context, product lead.ProductContext) error {
	// Only records with a terminal enrich success proceed; enrich-failed
	// records were already reported and stay behind.
	var candidates []lead.Record
	for _, rec := range r.Records() {
		if rec.Enriched {
			candidates = append(candidates, rec)
		}
	}
	r.beginStage(StateGenerating, len(candidates))

	start := time.Now()
	results, err := workerResults(ctx, r, candidates, product)
	if err != nil {
		return err
	}

	r.mu.Lock()
	// Regeneration replaces the previous emails wholesale.
	r.emails = make(map[string]lead.GeneratedEmail, len(results))
	r.emailOrder = r.emailOrder[:0]
	genOK, genFailed := 0, 0
	for _, res := range results {
		if res.Err != nil {
			r.genFailed[res.Input.ID] = redact.Secrets(res.Err.Error())
			genFailed++
			continue
		}
		r.emails[res.Input.ID] = res.Output
		r.emailOrder = append(r.emailOrder, res.Input.ID)
		genOK++
	}
	r.mu.Unlock()

	r.log.Info().
		Int("generated", genOK).
		Int("failed", genFailed).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("generate complete")
	return nil
}

func workerResults(ctx context.Context, r *Run, candidates []lead.Record, product lead.ProductContext) ([]worker.Result[lead.Record, lead.GeneratedEmail], error) {
	results, err := r.deps.Generator.GenerateAll(ctx, candidates, product, r.deps.GenerateWorker)
	if err != nil {
		return nil, &lead.StageError{Stage: lead.StageGenerate, Err: err}
	}
	for _, res := range results {
		r.bumpProgress(res.Err == nil)
		// Bad credentials fail the stage; per-record failures never do.
		var authErr *lead.AuthError
		if res.Err != nil && errors.As(res.Err, &authErr) {
			return nil, &lead.StageError{Stage: lead.StageGenerate, Err: authErr}
		}
	}
	return results, nil
}

func (r *Run) sendStage(ctx context.Context, _ lead.ProductContext) error {
	items := r.Emails()
	r.beginStage(StateSending, len(items))

	start := time.Now()
	results, err := r.deps.Sender.Send(ctx, items)

	r.mu.Lock()
	r.results = results
	for _, res := range results {
		switch res.Outcome {
		case lead.OutcomeSent:
			r.prog.Succeeded++
		case lead.OutcomeFailed:
			r.prog.Failed++
		}
		if r.prog.InProgress > 0 {
			r.prog.InProgress--
		}
	}
	r.mu.Unlock()

	if err != nil {
		return &lead.StageError{Stage: lead.StageSend, Err: err}
	}

	sent, failed, skipped := countOutcomes(results)
	r.log.Info().
		Int("sent", sent).
		Int("failed", failed).
		Int("skipped", skipped).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("send complete")
	return nil
}

func countOutcomes(results []lead.SendResult) (sent, failed, skipped int) {
	for _, res := range results {
		switch res.Outcome {
		case lead.OutcomeSent:
			sent++
		case lead.OutcomeFailed:
			failed++
		case lead.OutcomeSkipped:
			skipped++
		}
	}
	return sent, failed, skipped
}

// Summary is a human-readable one-liner for CLI output.
func (r *Run) Summary() string {
	snap := r.Snapshot()
	sent, failed, skipped := countOutcomes(r.Results())
	return fmt.Sprintf("run=%s state=%s records=%d sent=%d failed=%d skipped=%d",
		r.id, snap.State, len(r.Records()), sent, failed, skipped)
}

package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/enrich"
	"github.com/mackka2k/tg-news-listener/internal/filter"
	"github.com/mackka2k/tg-news-listener/internal/metrics"
	"github.com/mackka2k/tg-news-listener/internal/neardup"
	"github.com/mackka2k/tg-news-listener/internal/quota"
	"github.com/mackka2k/tg-news-listener/internal/ratelimit"
	"github.com/mackka2k/tg-news-listener/internal/repository"
	"github.com/mackka2k/tg-news-listener/internal/transport"
)

// DefaultMaxTextRunes is the outbound message length limit
const DefaultMaxTextRunes = 4096

// Config configures the orchestrator
type Config struct {
	TargetID     string
	MaxTextRunes int
	Retry        RetryPolicy
	// CommitAttempts bounds the fingerprint record retries after a send
	CommitAttempts int
	CommitBackoff  time.Duration
	// RefundOnFatal returns the quota slot when a send fails fatally
	RefundOnFatal bool
	// StorageFailureThreshold consecutive read-path storage failures halt the orchestrator
	StorageFailureThreshold int
}

// Deps are the collaborators of the orchestrator
type Deps struct {
	Fingerprints repository.FingerprintStore
	Ledger       *quota.Ledger
	Index        *neardup.Index
	Filter       *filter.Filter
	Limiter      ratelimit.Limiter
	Sender       transport.Sender
	// Enricher is optional
	Enricher enrich.Enricher
	// Metrics is optional
	Metrics *metrics.Metrics
}

// Orchestrator runs the admission state machine for one message at a time
// per caller. It is safe for concurrent use by a pool of workers.
type Orchestrator struct {
	config Config
	deps   Deps
	log    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu              sync.Mutex
	inflight        map[domain.Fingerprint]struct{}
	unrecorded      map[domain.Fingerprint]struct{}
	storageFailures int
	halted          atomic.Bool
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep overrides the retry backoff sleep
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// New creates an orchestrator
func New(config Config, deps Deps, log *zap.Logger, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Fingerprints == nil:
		return nil, errors.New("admission: fingerprint store is required")
	case deps.Ledger == nil:
		return nil, errors.New("admission: quota ledger is required")
	case deps.Index == nil:
		return nil, errors.New("admission: near-duplicate index is required")
	case deps.Filter == nil:
		return nil, errors.New("admission: content filter is required")
	case deps.Limiter == nil:
		return nil, errors.New("admission: rate limiter is required")
	case deps.Sender == nil:
		return nil, errors.New("admission: sender is required")
	}
	if strings.TrimSpace(config.TargetID) == "" {
		return nil, errors.New("admission: target id is required")
	}
	if config.MaxTextRunes <= 0 {
		config.MaxTextRunes = DefaultMaxTextRunes
	}
	if config.CommitAttempts <= 0 {
		config.CommitAttempts = 3
	}
	if config.CommitBackoff <= 0 {
		config.CommitBackoff = 200 * time.Millisecond
	}
	if config.StorageFailureThreshold <= 0 {
		config.StorageFailureThreshold = 5
	}
	config.Retry = config.Retry.withDefaults()

	o := &Orchestrator{
		config:     config,
		deps:       deps,
		log:        log,
		now:        time.Now,
		sleep:      sleepContext,
		inflight:   make(map[domain.Fingerprint]struct{}),
		unrecorded: make(map[domain.Fingerprint]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Halted reports whether the orchestrator stopped admitting messages
func (o *Orchestrator) Halted() bool {
	return o.halted.Load()
}

// Unrecorded returns the fingerprints emitted without a durable record
func (o *Orchestrator) Unrecorded() []domain.Fingerprint {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Fingerprint, 0, len(o.unrecorded))
	for fp := range o.unrecorded {
		out = append(out, fp)
	}
	return out
}

// run carries the state of one message through the pipeline
type run struct {
	outcome    domain.Outcome
	signature  *neardup.Reservation
	slot       quota.Slot
	reserved   bool
}

// Process runs ev through dedup, filter, quota, rate limit, send and commit.
// ctx should not be the shutdown signal itself: cancelling it before the
// first send aborts the message and releases its quota slot.
func (o *Orchestrator) Process(ctx context.Context, ev domain.MessageEvent) domain.Outcome {
	fp := domain.FingerprintOf(ev)
	r := &run{outcome: domain.Outcome{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		State:       domain.StateReceived,
		ReceivedAt:  o.now(),
	}}
	o.deps.Metrics.Received()

	o.admit(ctx, ev, r)

	r.outcome.FinishedAt = o.now()
	o.report(r.outcome)
	return r.outcome
}

func (o *Orchestrator) admit(ctx context.Context, ev domain.MessageEvent, r *run) {
	fp := r.outcome.Fingerprint

	if o.Halted() {
		o.fail(r, domain.KindStorageUnavailable, ErrHalted)
		r.outcome.Requeue = true
		return
	}
	if !fp.Valid() {
		o.reject(r, domain.StateRejectedContent, domain.KindRejectedContent, ReasonInvalidIdentity)
		return
	}

	if !o.claim(fp) {
		o.reject(r, domain.StateRejectedDuplicate, domain.KindRejectedDuplicate, ReasonInFlight)
		return
	}
	defer o.unclaim(fp)

	if !o.dedup(ctx, ev, r) {
		return
	}
	defer r.signature.Release()
	r.outcome.State = domain.StateDeduplicated

	verdict := o.deps.Filter.Decide(ev.Text)
	if !verdict.Forward {
		o.reject(r, domain.StateRejectedContent, domain.KindRejectedContent, verdict.Reason)
		return
	}
	r.outcome.State = domain.StateFiltered

	if !o.reserve(ctx, r) {
		return
	}
	r.outcome.State = domain.StateQuotaChecked

	if ctx.Err() != nil {
		o.abort(r, ctx.Err())
		return
	}

	text := o.compose(ctx, ev.Text)
	if !o.send(ctx, text, r) {
		return
	}
	r.outcome.State = domain.StateSent

	o.commit(ctx, ev, r)
}

func (o *Orchestrator) claim(fp domain.Fingerprint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[fp]; busy {
		return false
	}
	o.inflight[fp] = struct{}{}
	return true
}

func (o *Orchestrator) unclaim(fp domain.Fingerprint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, fp)
}

func (o *Orchestrator) isUnrecorded(fp domain.Fingerprint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.unrecorded[fp]
	return ok
}

// dedup checks exact identity first, then fuzzy similarity
func (o *Orchestrator) dedup(ctx context.Context, ev domain.MessageEvent, r *run) bool {
	fp := r.outcome.Fingerprint

	if o.isUnrecorded(fp) {
		o.reject(r, domain.StateRejectedDuplicate, domain.KindRejectedDuplicate, ReasonEmittedUnrecorded)
		return false
	}

	seen, err := o.deps.Fingerprints.HasSeen(ctx, fp)
	if err != nil {
		o.storageFailure(r, fmt.Errorf("fingerprint lookup: %w", err))
		return false
	}
	o.storageRecovered()
	if seen {
		o.reject(r, domain.StateRejectedDuplicate, domain.KindRejectedDuplicate, ReasonFingerprint)
		return false
	}

	// The signature stays pending until commit so a concurrent worker
	// carrying the same story is rejected here.
	signature, dup, match := o.deps.Index.Reserve(filter.Normalize(ev.Text), fp)
	if dup {
		o.log.Debug("Near-duplicate detected",
			zap.String("fingerprint", fp.String()),
			zap.String("matched", match.Fingerprint.String()),
			zap.Float64("score", match.Score))
		o.reject(r, domain.StateRejectedDuplicate, domain.KindRejectedDuplicate, ReasonNearDuplicate)
		return false
	}
	r.signature = signature
	return true
}

func (o *Orchestrator) reserve(ctx context.Context, r *run) bool {
	slot, err := o.deps.Ledger.TryReserve(ctx, r.outcome.ReceivedAt)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		r.outcome.DailyCount = slot.Count
		o.reject(r, domain.StateRejectedQuota, domain.KindRejectedQuota, "daily-limit")
		r.outcome.Err = err
		return false
	}
	if err != nil {
		o.storageFailure(r, err)
		return false
	}
	o.storageRecovered()

	r.slot = slot
	r.reserved = true
	r.outcome.DailyCount = slot.Count
	o.deps.Metrics.SetDaily(slot.Count, o.deps.Ledger.Limit())
	return true
}

func (o *Orchestrator) compose(ctx context.Context, text string) string {
	body := o.deps.Filter.Clean(text)
	if body == "" {
		body = strings.TrimSpace(text)
	}

	var tags []string
	if o.deps.Enricher != nil {
		var err error
		tags, err = o.deps.Enricher.Enrich(ctx, body)
		if err != nil {
			o.log.Warn("Tag enrichment failed", zap.Error(err))
			tags = nil
		}
	}
	return Compose(body, tags, o.config.MaxTextRunes)
}

// send gates every attempt on the limiter and retries retryable failures
func (o *Orchestrator) send(ctx context.Context, text string, r *run) bool {
	policy := o.config.Retry
	var lastErr *transport.Error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		started := o.now()
		if err := o.deps.Limiter.Acquire(ctx, 1); err != nil {
			if r.outcome.Attempts == 0 {
				o.abort(r, err)
			} else {
				o.failSend(r, domain.KindTransportRetryable, fmt.Errorf("rate limiter: %w", err))
			}
			return false
		}
		o.deps.Metrics.LimiterWait(o.now().Sub(started))
		r.outcome.State = domain.StateRateLimited

		r.outcome.Attempts++
		err := o.deps.Sender.Send(ctx, o.config.TargetID, text)
		if err == nil {
			o.deps.Limiter.ResetBackoff()
			o.deps.Metrics.SendAttempt("ok")
			return true
		}

		lastErr = transport.Classify(err)
		if lastErr.Kind == transport.Fatal {
			o.deps.Metrics.SendAttempt("fatal")
			o.failSend(r, domain.KindTransportFatal, lastErr)
			return false
		}
		o.deps.Metrics.SendAttempt("retryable")
		if lastErr.RetryAfter > 0 {
			o.deps.Limiter.Throttle(lastErr.RetryAfter)
			o.deps.Metrics.Throttled()
		}

		o.log.Warn("Send failed, will retry",
			zap.String("fingerprint", r.outcome.Fingerprint.String()),
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", lastErr.RetryAfter),
			zap.Error(lastErr))

		if attempt == policy.MaxAttempts {
			break
		}
		if err := o.sleep(ctx, policy.Delay(attempt)); err != nil {
			o.failSend(r, domain.KindTransportRetryable, fmt.Errorf("retry interrupted: %w", lastErr))
			return false
		}
	}

	o.failSend(r, domain.KindTransportRetryable, fmt.Errorf("retries exhausted after %d attempts: %w", r.outcome.Attempts, lastErr))
	return false
}

// commit records the fingerprint. The record outlives caller cancellation:
// the message is already out.
func (o *Orchestrator) commit(ctx context.Context, ev domain.MessageEvent, r *run) {
	fp := r.outcome.Fingerprint
	cctx := context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= o.config.CommitAttempts; attempt++ {
		err = o.deps.Fingerprints.Record(cctx, fp, ev.Text, o.now())
		if err == nil {
			break
		}
		o.log.Warn("Fingerprint record failed",
			zap.String("fingerprint", fp.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < o.config.CommitAttempts {
			_ = o.sleep(cctx, o.config.CommitBackoff*time.Duration(attempt))
		}
	}

	// Sent either way, so later reposts must match it
	r.signature.Confirm()

	if err != nil {
		o.mu.Lock()
		o.unrecorded[fp] = struct{}{}
		o.mu.Unlock()

		r.outcome.State = domain.StateFailed
		r.outcome.Kind = domain.KindStorageUnavailable
		r.outcome.Reason = ReasonEmittedUnrecorded
		r.outcome.EmittedUnrecorded = true
		r.outcome.Err = fmt.Errorf("%w: %w", ErrEmittedUnrecorded, err)
		return
	}

	r.outcome.State = domain.StateCommitted
}

func (o *Orchestrator) reject(r *run, state domain.State, kind domain.Kind, reason string) {
	r.outcome.State = state
	r.outcome.Kind = kind
	r.outcome.Reason = reason
}

func (o *Orchestrator) fail(r *run, kind domain.Kind, err error) {
	r.outcome.State = domain.StateFailed
	r.outcome.Kind = kind
	r.outcome.Err = err
	if r.outcome.Reason == "" {
		r.outcome.Reason = string(kind)
	}
}

// failSend fails after the quota was consumed. The slot is kept unless the
// refund knob is on and the failure is fatal.
func (o *Orchestrator) failSend(r *run, kind domain.Kind, err error) {
	o.fail(r, kind, err)
	if kind == domain.KindTransportFatal && o.config.RefundOnFatal {
		o.releaseSlot(r)
	}
}

// abort gives the slot back and asks for redelivery. Only valid before any
// send attempt.
func (o *Orchestrator) abort(r *run, cause error) {
	o.releaseSlot(r)
	o.fail(r, domain.KindAborted, fmt.Errorf("%w: %w", ErrAborted, cause))
	r.outcome.Requeue = true
}

func (o *Orchestrator) releaseSlot(r *run) {
	if !r.reserved {
		return
	}
	if err := o.deps.Ledger.Release(context.Background(), r.slot); err != nil {
		o.log.Error("Failed to release quota slot",
			zap.String("date", r.slot.Date),
			zap.Error(err))
		return
	}
	r.reserved = false
	r.outcome.DailyCount = r.slot.Count - 1
}

// storageFailure fails the message closed and halts after too many in a row
func (o *Orchestrator) storageFailure(r *run, err error) {
	o.fail(r, domain.KindStorageUnavailable, err)
	r.outcome.Requeue = true

	o.mu.Lock()
	o.storageFailures++
	failures := o.storageFailures
	o.mu.Unlock()

	if failures >= o.config.StorageFailureThreshold && o.halted.CompareAndSwap(false, true) {
		o.deps.Metrics.SetHalted(true)
		o.log.Error("Halting admission after repeated storage failures",
			zap.Int("consecutive_failures", failures),
			zap.Error(err))
	}
}

func (o *Orchestrator) storageRecovered() {
	o.mu.Lock()
	o.storageFailures = 0
	o.mu.Unlock()
}

// report logs every terminal outcome with its fingerprint and reason
func (o *Orchestrator) report(out domain.Outcome) {
	o.deps.Metrics.Outcome(out)

	fields := []zap.Field{
		zap.String("outcome_id", out.ID),
		zap.String("fingerprint", out.Fingerprint.String()),
		zap.String("state", string(out.State)),
		zap.String("kind", string(out.Kind)),
		zap.String("reason", out.Reason),
		zap.Int("attempts", out.Attempts),
		zap.Int("daily_count", out.DailyCount),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}

	switch {
	case out.EmittedUnrecorded:
		o.log.Error("Message emitted but not recorded, duplicate emission possible",
			append(fields, zap.Bool("emitted_unrecorded", true))...)
	case out.Committed():
		o.log.Info("Message committed", fields...)
	case out.State == domain.StateFailed:
		o.log.Error("Message failed", fields...)
	default:
		o.log.Info("Message rejected", fields...)
	}
}

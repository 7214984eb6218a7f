// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconciler runs the periodic export reconciliation loop.
//
// Each cycle enumerates the primary user collection, subtracts the users
// the ledger already marks Completed, and for every remaining user runs
// aggregate, package, publish and record, one user at a time with a fixed
// delay between users. At most one cycle runs per Reconciler; a scheduled
// tick that finds a cycle running is dropped.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianVault/pkg/telemetry"
	"github.com/AleutianAI/AleutianVault/pkg/validation"
	"github.com/AleutianAI/AleutianVault/services/reconciler/aggregator"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/ledger"
	"github.com/AleutianAI/AleutianVault/services/reconciler/packager"
	"github.com/AleutianAI/AleutianVault/services/reconciler/publisher"
)

const tracerName = "vault.reconciler"

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrBusy is returned when a cycle is requested while one is running.
	ErrBusy = errors.New("reconciler: cycle already running")

	// ErrNotFound is returned by LookupExport when the user has no
	// Completed entry.
	ErrNotFound = errors.New("reconciler: export not found")

	// ErrNoData marks a user for whom every source came back empty.
	ErrNoData = errors.New("no data found")

	// ErrCycleFailed wraps failures that abort a whole cycle.
	ErrCycleFailed = errors.New("reconciler: cycle failed")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("reconciler: already started")
)

// NoDataReason is the ledger reason recorded for ErrNoData.
var NoDataReason = ErrNoData.Error()

// =============================================================================
// State
// =============================================================================

// State is the reconciler's single-flight state.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// =============================================================================
// Collaborators
// =============================================================================

// UserLister enumerates the primary user collection.
// docstore.Store satisfies it.
type UserLister interface {
	ListIDs(ctx context.Context, collection string) ([]string, error)
}

// Aggregator builds a user's record.
type Aggregator interface {
	Aggregate(ctx context.Context, userID string) aggregator.Result
}

// Packager builds the export envelope.
type Packager interface {
	Package(userID string, record datatypes.AggregatedRecord) (packager.Package, error)
}

// Publisher pins an envelope.
type Publisher interface {
	Publish(ctx context.Context, pkg packager.Package) (publisher.Result, error)
}

// Config holds the schedule and discovery settings.
type Config struct {
	// Interval between scheduled cycles.
	Interval time.Duration

	// InterUserDelay is the pause between one user finishing and the next
	// one starting.
	InterUserDelay time.Duration

	// UserCollection is the primary collection enumerated for candidates.
	UserCollection string
}

// DefaultConfig returns a five minute interval and a two second delay.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		InterUserDelay: 2 * time.Second,
		UserCollection: "users",
	}
}

// Deps are the reconciler's collaborators. Archiver, Sink, Metrics, Logger
// and Now are optional.
type Deps struct {
	Users      UserLister
	Aggregator Aggregator
	Packager   Packager
	Publisher  Publisher
	Ledger     ledger.Store

	Archiver publisher.Archiver
	Sink     CycleSink
	Metrics  *Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// =============================================================================
// Reconciler
// =============================================================================

// Reconciler owns the schedule, the single-flight guard and the run
// statistics.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
type Reconciler struct {
	deps    Deps
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	state atomic.Int32

	mu        sync.Mutex
	cfg       Config
	stats     datatypes.RunStatistics
	baseline  int64
	sinceBase int64
	invalid   []string
	started   bool
	stopCh    chan struct{}
	resetCh   chan time.Duration
	baseCtx   context.Context

	wg sync.WaitGroup
}

// New validates deps and cfg and returns an idle Reconciler.
func New(cfg Config, deps Deps) (*Reconciler, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("reconciler: user lister is required")
	case deps.Aggregator == nil:
		return nil, errors.New("reconciler: aggregator is required")
	case deps.Packager == nil:
		return nil, errors.New("reconciler: packager is required")
	case deps.Publisher == nil:
		return nil, errors.New("reconciler: publisher is required")
	case deps.Ledger == nil:
		return nil, errors.New("reconciler: ledger is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("reconciler: interval must be positive, got %s", cfg.Interval)
	}
	if cfg.InterUserDelay < 0 {
		return nil, fmt.Errorf("reconciler: inter-user delay must not be negative, got %s", cfg.InterUserDelay)
	}
	if cfg.UserCollection == "" {
		cfg.UserCollection = DefaultConfig().UserCollection
	}

	r := &Reconciler{
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     deps.Now,
		cfg:     cfg,
		baseCtx: context.Background(),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Start launches the scheduler loop. The first cycle starts immediately.
//
// # Description
//
// The loop stops when ctx is cancelled or Stop is called. Cycles run on a
// context detached from ctx, so cancelling ctx never interrupts a user
// mid-publish.
//
// # Outputs
//
//   - error: ErrAlreadyStarted if the loop is already running.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.stopCh = make(chan struct{})
	r.resetCh = make(chan time.Duration, 1)
	r.baseCtx = context.WithoutCancel(ctx)
	interval := r.cfg.Interval
	delay := r.cfg.InterUserDelay
	r.mu.Unlock()

	r.logger.Info("Export reconciler starting",
		"interval", interval.String(),
		"inter_user_delay", delay.String(),
	)

	r.wg.Add(1)
	go r.loop(ctx, interval)
	return nil
}

// Stop halts the scheduler and waits for any in-flight cycle to finish.
// Safe to call more than once.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.started {
		close(r.stopCh)
		r.started = false
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Export reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()

	r.mu.Lock()
	stopCh, resetCh := r.stopCh, r.resetCh
	r.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.tick("schedule")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Export reconciler loop exiting (context cancelled)")
			return
		case <-stopCh:
			return
		case d := <-resetCh:
			ticker.Reset(d)
			r.logger.Info("Reconciler schedule updated", "interval", d.String())
		case <-ticker.C:
			r.tick("schedule")
		}
	}
}

// tick starts a background cycle unless one is already running.
func (r *Reconciler) tick(trigger string) {
	if !r.acquire() {
		r.metrics.SkippedTicksTotal.Inc()
		r.logger.Debug("Skipping tick, cycle already running", "trigger", trigger)
		return
	}
	r.launch(trigger)
}

func (r *Reconciler) launch(trigger string) {
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runCycle(ctx, trigger)
	}()
}

func (r *Reconciler) acquire() bool {
	return r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
}

// TriggerNow starts an out-of-band cycle in the background.
//
// Returns ErrBusy instead of queueing when a cycle is running. The cycle is
// detached from any request context.
func (r *Reconciler) TriggerNow() error {
	if !r.acquire() {
		return ErrBusy
	}
	r.logger.Info("Manual reconciliation triggered")
	r.launch("manual")
	return nil
}

// RunOnce runs a cycle synchronously on ctx and returns its report.
//
// Used by the CLI. Returns ErrBusy if a cycle is already running, or the
// cycle's error wrapped in ErrCycleFailed.
func (r *Reconciler) RunOnce(ctx context.Context) (datatypes.CycleReport, error) {
	if !r.acquire() {
		return datatypes.CycleReport{}, ErrBusy
	}
	report := r.runCycle(ctx, "once")
	return report, report.Err
}

// UpdateSchedule changes the interval and the inter-user delay.
//
// The new interval takes effect on the running ticker; the delay applies
// from the next cycle.
func (r *Reconciler) UpdateSchedule(interval, delay time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reconciler: interval must be positive, got %s", interval)
	}
	if delay < 0 {
		return fmt.Errorf("reconciler: inter-user delay must not be negative, got %s", delay)
	}

	r.mu.Lock()
	changed := r.cfg.Interval != interval
	r.cfg.Interval = interval
	r.cfg.InterUserDelay = delay
	resetCh := r.resetCh
	started := r.started
	r.mu.Unlock()

	if changed && started {
		select {
		case <-resetCh:
		default:
		}
		select {
		case resetCh <- interval:
		default:
		}
	}
	return nil
}

// Schedule returns the current interval and inter-user delay.
func (r *Reconciler) Schedule() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Interval, r.cfg.InterUserDelay
}

// =============================================================================
// Operator API
// =============================================================================

// Status returns a snapshot of the run state and statistics.
func (r *Reconciler) Status() datatypes.ReconcilerStatus {
	state := State(r.state.Load())

	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.stats
	if stats.LastRunTime != nil {
		t := *stats.LastRunTime
		stats.LastRunTime = &t
	}
	if stats.NextRunTime != nil {
		t := *stats.NextRunTime
		stats.NextRunTime = &t
	}

	return datatypes.ReconcilerStatus{
		IsRunning:      state == StateRunning,
		State:          state.String(),
		ProcessedCount: r.baseline + r.sinceBase,
		Stats:          stats,
		InvalidIDs:     append([]string(nil), r.invalid...),
	}
}

// ResetStats zeroes the in-memory counters. Timestamps, the ledger and the
// processed count are untouched.
func (r *Reconciler) ResetStats() {
	r.mu.Lock()
	r.stats.TotalProcessed = 0
	r.stats.Successful = 0
	r.stats.Failed = 0
	r.mu.Unlock()
	r.logger.Info("Reconciler statistics reset")
}

// LookupExport returns the user's Completed ledger entry.
//
// Returns ErrNotFound when the user has no entry or only a Failed one.
func (r *Reconciler) LookupExport(ctx context.Context, userID string) (datatypes.LedgerEntry, error) {
	id, err := validation.SanitizeUserID(userID)
	if err != nil {
		return datatypes.LedgerEntry{}, err
	}

	entry, err := r.deps.Ledger.Get(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return datatypes.LedgerEntry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return datatypes.LedgerEntry{}, err
	}
	if !entry.IsCompleted() {
		return datatypes.LedgerEntry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return entry, nil
}

// =============================================================================
// Cycle
// =============================================================================

// runCycle executes one cycle. The caller must hold the guard; runCycle
// always releases it.
func (r *Reconciler) runCycle(ctx context.Context, trigger string) (report datatypes.CycleReport) {
	start := r.now()
	report = datatypes.CycleReport{
		CycleID:   uuid.NewString(),
		Trigger:   trigger,
		StartedAt: start,
	}
	logger := r.logger.With("cycle_id", report.CycleID, "trigger", trigger)

	ctx, span := telemetry.StartSpan(ctx, tracerName, "Reconciler.runCycle")
	defer span.End()
	span.SetAttributes(attribute.String("cycle_id", report.CycleID), attribute.String("trigger", trigger))

	r.metrics.Running.Set(1)
	defer func() {
		if rec := recover(); rec != nil {
			report.Err = fmt.Errorf("%w: panic: %v", ErrCycleFailed, rec)
		}
		report.Duration = r.now().Sub(start)
		if report.Err != nil {
			telemetry.RecordError(span, report.Err)
		}
		r.finishCycle(ctx, logger, report)
		r.metrics.Running.Set(0)
		r.state.Store(int32(StateIdle))
	}()

	r.mu.Lock()
	collection := r.cfg.UserCollection
	delay := r.cfg.InterUserDelay
	r.mu.Unlock()

	candidates, completed, invalid, err := r.discover(ctx, logger, collection)
	if err != nil {
		report.Err = fmt.Errorf("%w: %v", ErrCycleFailed, err)
		return report
	}

	r.mu.Lock()
	r.baseline = int64(completed)
	r.sinceBase = 0
	r.invalid = capIDs(invalid, maxReportedInvalidIDs)
	r.mu.Unlock()

	report.InvalidIDs = len(invalid)
	r.metrics.InvalidIDs.Set(float64(len(invalid)))
	if len(invalid) > 0 {
		logger.Warn("Users skipped for invalid ids", "count", len(invalid))
	}

	report.Candidates = len(candidates)
	r.metrics.Candidates.Set(float64(len(candidates)))
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		logger.Debug("No unprocessed users")
		return report
	}

	logger.Info("Reconciliation cycle starting",
		"candidates", len(candidates),
		"already_completed", completed,
	)

	for i, userID := range candidates {
		if i > 0 {
			if err := pause(ctx, delay); err != nil {
				report.Err = fmt.Errorf("%w: pacing: %v", ErrCycleFailed, err)
				return report
			}
		}
		if r.processUser(ctx, logger, userID) {
			report.Successful++
		} else {
			report.Failed++
		}
	}
	return report
}

// pause waits d after the previous user finished, however long that user took.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maxReportedInvalidIDs bounds the invalid ids kept for Status.
const maxReportedInvalidIDs = 100

// discover returns the sorted candidate ids, the completed count and the
// sorted ids rejected by validation.
func (r *Reconciler) discover(ctx context.Context, logger *slog.Logger, collection string) ([]string, int, []string, error) {
	ids, err := r.deps.Users.ListIDs(ctx, collection)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("enumerate %s: %w", collection, err)
	}
	completed, err := r.deps.Ledger.ListCompleted(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list completed: %w", err)
	}

	candidates := make([]string, 0, len(ids))
	var invalid []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, done := completed[id]; done {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := validation.ValidateUserID(id); err != nil {
			logger.Warn("Skipping user with invalid id", "user_id", id, "error", err)
			invalid = append(invalid, id)
			continue
		}
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)
	sort.Strings(invalid)
	return candidates, len(completed), invalid, nil
}

func capIDs(ids []string, n int) []string {
	if len(ids) > n {
		ids = ids[:n]
	}
	return append([]string(nil), ids...)
}

// processUser runs one user through the pipeline and reports success.
func (r *Reconciler) processUser(ctx context.Context, logger *slog.Logger, userID string) bool {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Reconciler.processUser")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	logger = logger.With("user_id", userID)

	res := r.deps.Aggregator.Aggregate(ctx, userID)
	if res.Record.IsEmpty() {
		logger.Info("No data found for user", "failed_lookups", len(res.Failed()))
		r.fail(ctx, logger, userID, NoDataReason, "no_data")
		telemetry.RecordError(span, ErrNoData)
		return false
	}

	pkg, err := r.deps.Packager.Package(userID, res.Record)
	if err != nil {
		logger.Error("Packaging failed", "error", err)
		r.fail(ctx, logger, userID, err.Error(), "failed")
		telemetry.RecordError(span, err)
		return false
	}

	pub, err := r.deps.Publisher.Publish(ctx, pkg)
	if err != nil {
		logger.Warn("Publish failed",
			"error", err,
			"transient", publisher.IsTransient(err),
		)
		r.fail(ctx, logger, userID, publisher.Reason(err), "failed")
		telemetry.RecordError(span, err)
		return false
	}

	outcome := datatypes.CompletedOutcome{
		ContentID:         pub.ContentID,
		Filename:          pub.Filename,
		ByteSize:          pub.ByteSize,
		SourceCollections: res.SourceCollections(),
		PublicURL:         pub.PublicURL,
	}
	if err := r.deps.Ledger.MarkCompleted(ctx, userID, outcome); err != nil {
		// The content is pinned but unrecorded; the next cycle republishes.
		logger.Error("Recording completed export failed",
			"content_id", pub.ContentID,
			"error", err,
		)
		r.countFailure("failed")
		telemetry.RecordError(span, err)
		return false
	}
	r.countSuccess()

	if r.deps.Archiver != nil {
		if loc, err := r.deps.Archiver.Archive(ctx, userID, pub.ContentID, pkg.Bytes); err != nil {
			logger.Warn("Archive mirror failed", "content_id", pub.ContentID, "error", err)
		} else {
			logger.Debug("Envelope archived", "location", loc)
		}
	}

	logger.Info("User export completed",
		"content_id", pub.ContentID,
		"data_completeness", res.Record.Summary.DataCompleteness,
	)
	telemetry.SetSpanOK(span)
	return true
}

func (r *Reconciler) fail(ctx context.Context, logger *slog.Logger, userID, reason, outcome string) {
	if err := r.deps.Ledger.MarkFailed(ctx, userID, reason); err != nil {
		logger.Error("Recording failed attempt failed", "reason", reason, "error", err)
	}
	r.countFailure(outcome)
}

func (r *Reconciler) countSuccess() {
	r.mu.Lock()
	r.stats.Successful++
	r.stats.TotalProcessed++
	r.sinceBase++
	r.mu.Unlock()
	r.metrics.UsersTotal.WithLabelValues("completed").Inc()
}

func (r *Reconciler) countFailure(outcome string) {
	r.mu.Lock()
	r.stats.Failed++
	r.mu.Unlock()
	r.metrics.UsersTotal.WithLabelValues(outcome).Inc()
}

func (r *Reconciler) finishCycle(ctx context.Context, logger *slog.Logger, report datatypes.CycleReport) {
	r.mu.Lock()
	last := r.now()
	next := last.Add(r.cfg.Interval)
	r.stats.LastRunTime = &last
	r.stats.NextRunTime = &next
	r.mu.Unlock()

	result := cycleResult(report)
	r.metrics.CyclesTotal.WithLabelValues(result).Inc()
	r.metrics.CycleDuration.Observe(report.Duration.Seconds())

	if report.Err != nil {
		logger.Error("Reconciliation cycle failed",
			"error", report.Err,
			"successful", report.Successful,
			"failed", report.Failed,
		)
	} else if report.Candidates > 0 {
		logger.Info("Reconciliation cycle completed",
			"candidates", report.Candidates,
			"successful", report.Successful,
			"failed", report.Failed,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}

	if r.deps.Sink != nil {
		if err := r.deps.Sink.RecordCycle(ctx, report); err != nil {
			logger.Warn("Cycle sink write failed", "error", err)
		}
	}
}

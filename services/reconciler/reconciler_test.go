// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVault/services/reconciler/aggregator"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
	"github.com/AleutianAI/AleutianVault/services/reconciler/docstore"
	"github.com/AleutianAI/AleutianVault/services/reconciler/ledger"
	"github.com/AleutianAI/AleutianVault/services/reconciler/lookup"
	"github.com/AleutianAI/AleutianVault/services/reconciler/packager"
	"github.com/AleutianAI/AleutianVault/services/reconciler/publisher"
	vaultbadger "github.com/AleutianAI/AleutianVault/services/reconciler/storage/badger"
)

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePublisher pins everything unless told to fail for a user.
type fakePublisher struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
	block   chan struct{}
	latency time.Duration
	spans   [][2]time.Time
}

func (f *fakePublisher) Publish(ctx context.Context, pkg packager.Package) (publisher.Result, error) {
	started := time.Now()
	if f.block != nil {
		<-f.block
	}
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, [2]time.Time{started, time.Now()})

	userID := pkg.Envelope.UserID
	f.calls = append(f.calls, userID)
	if err, ok := f.failFor[userID]; ok {
		return publisher.Result{}, err
	}
	return publisher.Result{
		ContentID: testCID,
		Filename:  packager.Filename(userID, fixedNow),
		ByteSize:  int64(len(pkg.Bytes)),
		PublicURL: "https://gateway.example/ipfs/" + testCID,
	}, nil
}

func (f *fakePublisher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeArchiver struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeArchiver) Archive(_ context.Context, userID, contentID string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, userID+"/"+contentID)
	return "gs://bucket/" + userID, nil
}

func (f *fakeArchiver) Close() error { return nil }

type staticUsers []string

func (s staticUsers) ListIDs(context.Context, string) ([]string, error) {
	return append([]string(nil), s...), nil
}

type panicAggregator struct{}

func (panicAggregator) Aggregate(context.Context, string) aggregator.Result {
	panic("boom")
}

type harness struct {
	store     *docstore.MemoryStore
	ledger    ledger.Store
	publisher *fakePublisher
	archiver  *fakeArchiver
	registry  *prometheus.Registry
	rec       *Reconciler
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store := docstore.NewMemoryStore()
	led, err := ledger.OpenBadger(vaultbadger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	logger := quietLogger()
	sources := lookup.DefaultSources(store, lookup.DefaultCollections(), logger)

	h := &harness{
		store:     store,
		ledger:    led,
		publisher: &fakePublisher{failFor: map[string]error{}},
		archiver:  &fakeArchiver{},
		registry:  prometheus.NewRegistry(),
	}

	deps := Deps{
		Users:      store,
		Aggregator: aggregator.New(aggregator.FromLookup(sources), aggregator.WithLogger(logger)),
		Packager:   packager.New(func() time.Time { return fixedNow }),
		Publisher:  h.publisher,
		Ledger:     led,
		Archiver:   h.archiver,
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	deps.Metrics = NewMetrics(h.registry)

	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	cfg.InterUserDelay = 0

	h.rec, err = New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(h.rec.Stop)
	return h
}

func (h *harness) seedFullUser(id string) {
	h.store.Put("users", id, datatypes.Document{"name": "User " + id})
	h.store.Put("verifications", "v-"+id, datatypes.Document{"userId": id, "status": "approved"})
	h.store.Put("payments", "p1-"+id, datatypes.Document{"uid": id, "amount": 10})
	h.store.Put("payments", "p2-"+id, datatypes.Document{"user_id": id, "amount": 20})
}

// =============================================================================
// Cycle scenarios
// =============================================================================

func TestRunOnce_PublishesEveryUnprocessedUser(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")
	h.seedFullUser("bob")

	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 0, report.Failed)
	assert.NotEmpty(t, report.CycleID)
	assert.Equal(t, []string{"alice", "bob"}, h.publisher.Calls())

	entry, err := h.ledger.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, entry.Status)
	assert.Equal(t, testCID, entry.ContentID)
	assert.Equal(t, []string{"payments", "users", "verifications"}, entry.SourceCollections)
	assert.Equal(t, "user-export-alice-1735787045000.json", entry.Filename)

	st := h.rec.Status()
	assert.False(t, st.IsRunning)
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, int64(2), st.Stats.TotalProcessed)
	assert.Equal(t, int64(2), st.Stats.Successful)
	assert.Equal(t, int64(0), st.Stats.Failed)
	assert.Equal(t, int64(2), st.ProcessedCount)
	require.NotNil(t, st.Stats.LastRunTime)
	require.NotNil(t, st.Stats.NextRunTime)
	assert.Equal(t, time.Hour, st.Stats.NextRunTime.Sub(*st.Stats.LastRunTime))

	assert.Len(t, h.archiver.names, 2)
}

func TestRunOnce_SecondCycleIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")

	_, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Candidates)
	assert.Len(t, h.publisher.Calls(), 1)
	assert.Equal(t, int64(1), h.rec.Status().ProcessedCount)
}

func TestRunOnce_PicksUpNewUsersOnly(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")
	_, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	h.seedFullUser("carol")
	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, []string{"alice", "carol"}, h.publisher.Calls())
}

func TestRunOnce_NoDataIsFailedAndRetried(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Users = staticUsers{"ghost"} })

	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, h.publisher.Calls())

	entry, err := h.ledger.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusFailed, entry.Status)
	assert.Equal(t, "no data found", entry.Reason)
	assert.Equal(t, NoDataReason, entry.Reason)

	st := h.rec.Status()
	assert.Equal(t, int64(1), st.Stats.Failed)
	assert.Equal(t, int64(0), st.Stats.TotalProcessed)

	// Data arrives later; the Failed entry is retried.
	h.store.Put("settings", "s1", datatypes.Document{"userId": "ghost", "theme": "dark"})
	report, err = h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)

	entry, err = h.ledger.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, entry.Status)
	assert.Equal(t, []string{"settings"}, entry.SourceCollections)
	assert.Equal(t, 2, entry.Attempts)
}

type erroringClient struct{ err error }

func (c erroringClient) Do(*http.Request) (*http.Response, error) { return nil, c.err }

func TestRunOnce_PublishTransportErrorRecordedVerbatim(t *testing.T) {
	transport := errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
	pub := publisher.New(publisher.DefaultConfig(), []byte("jwt"), erroringClient{err: transport}, quietLogger())

	h := newHarness(t, func(d *Deps) { d.Publisher = pub })
	h.seedFullUser("dave")

	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	entry, err := h.ledger.Get(context.Background(), "dave")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusFailed, entry.Status)
	assert.Equal(t, transport.Error(), entry.Reason)
	assert.Empty(t, h.archiver.names)
}

func TestRunOnce_PublishRejectionBodyRecordedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"reason":"INVALID_CREDENTIALS"}}`)
	}))
	defer srv.Close()

	cfg := publisher.DefaultConfig()
	cfg.Endpoint = srv.URL
	pub := publisher.New(cfg, []byte("jwt"), srv.Client(), quietLogger())

	h := newHarness(t, func(d *Deps) { d.Publisher = pub })
	h.seedFullUser("erin")

	_, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	entry, err := h.ledger.Get(context.Background(), "erin")
	require.NoError(t, err)
	assert.Equal(t, `{"error":{"reason":"INVALID_CREDENTIALS"}}`, entry.Reason)
}

func TestRunOnce_OneFailureDoesNotStopTheCycle(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")
	h.seedFullUser("bob")
	h.seedFullUser("carol")
	h.publisher.failFor["bob"] = &publisher.PublishError{StatusCode: 503, Reason: "unavailable", Err: publisher.ErrUnexpectedStatus}

	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 1, report.Failed)

	completed, err := h.ledger.ListCompleted(context.Background())
	require.NoError(t, err)
	assert.Contains(t, completed, "alice")
	assert.Contains(t, completed, "carol")
	assert.NotContains(t, completed, "bob")

	// bob succeeds on the next cycle.
	delete(h.publisher.failFor, "bob")
	report, err = h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Successful)
}

func TestRunOnce_ArchiveFailureKeepsCompleted(t *testing.T) {
	h := newHarness(t)
	h.archiver.err = errors.New("bucket gone")
	h.seedFullUser("alice")

	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)

	done, err := h.ledger.IsCompleted(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRunOnce_SkipsInvalidIDs(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Users = staticUsers{"$ne", "ok-user", "ok-user", "users/x", "$ne"}
	})

	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 2, report.InvalidIDs)

	st := h.rec.Status()
	assert.Equal(t, []string{"$ne", "users/x"}, st.InvalidIDs)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.rec.metrics.InvalidIDs))

	_, err = h.ledger.Get(context.Background(), "$ne")
	assert.Error(t, err)
}

func TestCapIDs(t *testing.T) {
	ids := []string{"a", "b", "c"}
	assert.Equal(t, []string{"a", "b"}, capIDs(ids, 2))
	assert.Equal(t, ids, capIDs(ids, 5))
	assert.Nil(t, capIDs(nil, 5))
}

func TestRunOnce_EnumerationFailureAbortsAndReleases(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")
	h.store.FailCollection("users", errors.New("primary down"))

	report, err := h.rec.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrCycleFailed)
	assert.Contains(t, err.Error(), "primary down")
	assert.Equal(t, 0, report.Candidates)

	st := h.rec.Status()
	assert.False(t, st.IsRunning)
	assert.NotNil(t, st.Stats.LastRunTime)

	h.store.FailCollection("users", nil)
	report, err = h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)
}

func TestRunOnce_PanicReleasesGuard(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Users = staticUsers{"alice"}
		d.Aggregator = panicAggregator{}
	})

	_, err := h.rec.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrCycleFailed)
	assert.Equal(t, StateIdle.String(), h.rec.Status().State)

	_, err = h.rec.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrCycleFailed)
}

func TestRunOnce_PacesUsers(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"a1", "a2", "a3"} {
		h.seedFullUser(id)
	}
	require.NoError(t, h.rec.UpdateSchedule(time.Hour, 60*time.Millisecond))

	start := time.Now()
	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Successful)
	assert.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond)
}

func TestRunOnce_DelayFollowsSlowUser(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		h.seedFullUser(id)
	}
	h.publisher.latency = 80 * time.Millisecond
	require.NoError(t, h.rec.UpdateSchedule(time.Hour, 50*time.Millisecond))

	report, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Successful)

	h.publisher.mu.Lock()
	spans := append([][2]time.Time(nil), h.publisher.spans...)
	h.publisher.mu.Unlock()
	require.Len(t, spans, 3)
	for i := 1; i < len(spans); i++ {
		gap := spans[i][0].Sub(spans[i-1][1])
		assert.GreaterOrEqual(t, gap, 50*time.Millisecond, "gap before user %d", i)
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestTriggerNow_AtMostOneCycle(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")
	h.publisher.block = make(chan struct{})

	require.NoError(t, h.rec.TriggerNow())
	require.Eventually(t, func() bool { return h.rec.Status().IsRunning }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.rec.TriggerNow(), ErrBusy)
	_, err := h.rec.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(h.publisher.block)
	require.Eventually(t, func() bool { return !h.rec.Status().IsRunning }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.publisher.Calls(), 1)

	done, err := h.ledger.IsCompleted(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestTriggerNow_ConcurrentCallersGetOneCycle(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")
	h.publisher.block = make(chan struct{})

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.rec.TriggerNow() == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), started.Load())

	close(h.publisher.block)
	h.rec.Stop()
	assert.Len(t, h.publisher.Calls(), 1)
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.rec.Start(ctx))
	assert.ErrorIs(t, h.rec.Start(ctx), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		done, err := h.ledger.IsCompleted(context.Background(), "alice")
		return err == nil && done
	}, 2*time.Second, 10*time.Millisecond)

	h.rec.Stop()
	assert.False(t, h.rec.Status().IsRunning)
}

func TestStart_SkipsTicksWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")
	h.publisher.block = make(chan struct{})
	require.NoError(t, h.rec.UpdateSchedule(20*time.Millisecond, 0))

	require.NoError(t, h.rec.Start(context.Background()))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.rec.metrics.SkippedTicksTotal) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	close(h.publisher.block)
	h.rec.Stop()
	assert.Len(t, h.publisher.Calls(), 1)
}

func TestUpdateSchedule(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.rec.UpdateSchedule(30*time.Second, time.Second))
	interval, delay := h.rec.Schedule()
	assert.Equal(t, 30*time.Second, interval)
	assert.Equal(t, time.Second, delay)

	assert.Error(t, h.rec.UpdateSchedule(0, time.Second))
	assert.Error(t, h.rec.UpdateSchedule(time.Second, -time.Second))

	require.NoError(t, h.rec.Start(context.Background()))
	require.NoError(t, h.rec.UpdateSchedule(time.Minute, 0))
	require.NoError(t, h.rec.UpdateSchedule(2*time.Minute, 0))
	interval, _ = h.rec.Schedule()
	assert.Equal(t, 2*time.Minute, interval)
}

// =============================================================================
// Operator API
// =============================================================================

func TestResetStats_ClearsCountersOnly(t *testing.T) {
	h := newHarness(t)
	h.seedFullUser("alice")
	_, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	h.rec.ResetStats()
	st := h.rec.Status()
	assert.Zero(t, st.Stats.TotalProcessed)
	assert.Zero(t, st.Stats.Successful)
	assert.Zero(t, st.Stats.Failed)
	assert.NotNil(t, st.Stats.LastRunTime)

	done, err := h.ledger.IsCompleted(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestLookupExport(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Users = staticUsers{"alice", "ghost"} })
	h.seedFullUser("alice")
	_, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	entry, err := h.rec.LookupExport(context.Background(), "  alice ")
	require.NoError(t, err)
	assert.Equal(t, testCID, entry.ContentID)

	_, err = h.rec.LookupExport(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.rec.LookupExport(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.rec.LookupExport(context.Background(), "a/b")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)

	h := newHarness(t)
	deps := h.rec.deps
	_, err = New(Config{Interval: 0}, deps)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "state(7)", State(7).String())
}

// =============================================================================
// Metrics and sinks
// =============================================================================

func TestMetrics_RecordCycleOutcomes(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Users = staticUsers{"alice", "ghost"} })
	h.seedFullUser("alice")

	_, err := h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	m := h.rec.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsersTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsersTotal.WithLabelValues("no_data")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Candidates))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Running))

	// ghost is retried; alice is not.
	_, err = h.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Candidates))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UsersTotal.WithLabelValues("no_data")))
}

func TestInfluxSink_WritesCyclePoint(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
		query string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		lines = append(lines, string(body))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "vault", Bucket: "cycles"})
	require.NoError(t, err)
	defer sink.Close()

	h := newHarness(t, func(d *Deps) { d.Sink = sink })
	h.seedFullUser("alice")
	_, err = h.rec.RunOnce(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "reconcile_cycle,"))
	assert.Contains(t, lines[0], "result=ok")
	assert.Contains(t, lines[0], "trigger=once")
	assert.Contains(t, lines[0], "successful=1i")
	assert.Contains(t, lines[0], "invalid_ids=0i")
	assert.Contains(t, query, "bucket=cycles")
}

func TestNewInfluxSink_RequiresTarget(t *testing.T) {
	_, err := NewInfluxSink(InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}

func TestCycleResult(t *testing.T) {
	assert.Equal(t, "failed", cycleResult(datatypes.CycleReport{Err: errors.New("x"), Candidates: 3}))
	assert.Equal(t, "empty", cycleResult(datatypes.CycleReport{}))
	assert.Equal(t, "ok", cycleResult(datatypes.CycleReport{Candidates: 1}))
}

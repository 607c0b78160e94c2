package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"rpgkernel/pkg/domain"
)

var expvarSeq atomic.Uint64

// ExpvarMetricsRecorder publishes operation latency totals, success/error
// counters and per-rule outcome counters through expvar.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	rules     map[string]map[string]int64
}

// ExpvarMetricsSnapshot is a point-in-time copy of the recorder state.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Rules       map[string]map[string]int64 `json:"rule_outcomes_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated unique name when name is empty. expvar names are process-wide,
// so a name may only be used once.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("rpgkernel_metrics_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		rules:     make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns a copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ExpvarMetricsSnapshot{
		DurationsMS: maps.Clone(r.durations),
		Results:     cloneCounters(r.results),
		Rules:       cloneCounters(r.rules),
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] += float64(duration) / float64(time.Millisecond)
	increment(r.results, operation, statusLabel(success))
}

// RuleHook counts rule outcomes as applied, failed or skipped:<reason>.
func (r *ExpvarMetricsRecorder) RuleHook() domain.RuleHook {
	return func(_ context.Context, _ string, _ domain.Command, outcome domain.RuleOutcome) {
		r.mu.Lock()
		defer r.mu.Unlock()
		increment(r.rules, outcome.Rule, outcomeLabel(outcome))
	}
}

func outcomeLabel(outcome domain.RuleOutcome) string {
	switch {
	case outcome.Failed():
		return "failed"
	case outcome.Applied:
		return "applied"
	default:
		return "skipped:" + string(outcome.Skipped)
	}
}

func statusLabel(success bool) string {
	if success {
		return string(AuditStatusSuccess)
	}
	return string(AuditStatusError)
}

func increment(counters map[string]map[string]int64, key, label string) {
	if _, ok := counters[key]; !ok {
		counters[key] = make(map[string]int64, 2)
	}
	counters[key][label]++
}

func cloneCounters(in map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(in))
	for key, counts := range in {
		out[key] = maps.Clone(counts)
	}
	return out
}

// JSONTraceEntry is one finished span written by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes finished spans as JSON lines and keeps them for
// inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer returns a tracer encoding to w. A nil writer only retains
// spans in memory.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of every finished span.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
	once      sync.Once
}

func (s *jsonTraceSpan) End(err error) {
	s.once.Do(func() {
		ended := time.Now().UTC()
		entry := JSONTraceEntry{
			Operation:  s.operation,
			Status:     statusLabel(err == nil),
			DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
			StartedAt:  s.started,
			EndedAt:    ended,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		s.tracer.mu.Lock()
		defer s.tracer.mu.Unlock()
		s.tracer.entries = append(s.tracer.entries, entry)
		if s.tracer.enc != nil {
			_ = s.tracer.enc.Encode(entry)
		}
	})
}

package metrics

import (
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
	"github.com/foundryproxy/foundry-gateway/internal/persist"
)

const (
	schemaVersion     = 1
	maxLatencySamples = 200
)

// TokenUsage accumulates normalized token counts.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *TokenUsage) add(usage domain.Usage) {
	u.PromptTokens += usage.PromptTokens
	u.CompletionTokens += usage.CompletionTokens
	u.TotalTokens += usage.TotalTokens
}

// LatencySnapshot summarizes the bounded sample window of one route.
type LatencySnapshot struct {
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// RouteSnapshot is the immutable per-route view returned by Snapshot.
type RouteSnapshot struct {
	Count      int                   `json:"count"`
	ErrorCount int                   `json:"error_count"`
	LastSeen   float64               `json:"last_seen"`
	Usage      TokenUsage            `json:"usage"`
	ByModel    map[string]TokenUsage `json:"by_model"`
	ByResource map[string]TokenUsage `json:"by_resource"`
	ByUser     map[string]TokenUsage `json:"by_user"`
	Latency    LatencySnapshot       `json:"latency_ms"`
}

// Snapshot is the full aggregate: every route plus the tracker start time.
type Snapshot struct {
	StartTime float64                  `json:"start_time"`
	Routes    map[string]RouteSnapshot `json:"routes"`
}

type routeMetrics struct {
	count       int
	errorCount  int
	lastSeen    float64
	usage       TokenUsage
	byModel     map[string]TokenUsage
	byResource  map[string]TokenUsage
	byUser      map[string]TokenUsage
	durations   []float64
	durationSum float64
}

func newRouteMetrics() *routeMetrics {
	return &routeMetrics{
		lastSeen:   unixNow(),
		byModel:    make(map[string]TokenUsage),
		byResource: make(map[string]TokenUsage),
		byUser:     make(map[string]TokenUsage),
	}
}

// Sample carries one request outcome into Record.
type Sample struct {
	Route      string
	Model      string
	Resource   string
	UserID     string
	Usage      domain.Usage
	Error      bool
	DurationMs float64
	// HasDuration distinguishes a zero-length measurement from no
	// measurement at all.
	HasDuration bool
}

// Tracker aggregates per-route request metrics. All mutation goes through
// Record under one lock; persistence failures are logged and swallowed so
// metrics can never break the request path.
type Tracker struct {
	mu          sync.Mutex
	startTime   float64
	routes      map[string]*routeMetrics
	persistPath string
}

func NewTracker() *Tracker {
	return &Tracker{
		startTime: unixNow(),
		routes:    make(map[string]*routeMetrics),
	}
}

// ConfigurePersistence enables snapshot persistence to path and loads any
// compatible existing snapshot.
func (t *Tracker) ConfigurePersistence(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.persistPath = path
	t.loadLocked()
}

func (t *Tracker) StartTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

func (t *Tracker) Record(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rm, ok := t.routes[s.Route]
	if !ok {
		rm = newRouteMetrics()
		t.routes[s.Route] = rm
	}

	rm.count++
	if s.Error {
		rm.errorCount++
	}
	rm.lastSeen = unixNow()
	rm.usage.add(s.Usage)

	if s.HasDuration {
		rm.durations = append(rm.durations, s.DurationMs)
		rm.durationSum += s.DurationMs
		if len(rm.durations) > maxLatencySamples {
			rm.durationSum -= rm.durations[0]
			rm.durations = rm.durations[1:]
		}
	}

	addKeyed(rm.byModel, orDefault(s.Model, "unknown-model"), s.Usage)
	addKeyed(rm.byResource, orDefault(s.Resource, "unknown-resource"), s.Usage)
	addKeyed(rm.byUser, orDefault(s.UserID, "unknown"), s.Usage)

	t.persistLocked()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = make(map[string]*routeMetrics)
	t.startTime = unixNow()
	t.persistLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	routes := make(map[string]RouteSnapshot, len(t.routes))
	for route, rm := range t.routes {
		routes[route] = RouteSnapshot{
			Count:      rm.count,
			ErrorCount: rm.errorCount,
			LastSeen:   rm.lastSeen,
			Usage:      rm.usage,
			ByModel:    copyKeyed(rm.byModel),
			ByResource: copyKeyed(rm.byResource),
			ByUser:     copyKeyed(rm.byUser),
			Latency:    latencySnapshot(rm),
		}
	}
	return Snapshot{StartTime: t.startTime, Routes: routes}
}

func latencySnapshot(rm *routeMetrics) LatencySnapshot {
	n := len(rm.durations)
	if n == 0 {
		return LatencySnapshot{}
	}
	sorted := make([]float64, n)
	copy(sorted, rm.durations)
	sort.Float64s(sorted)

	pct := func(p float64) float64 {
		if n == 1 {
			return sorted[0]
		}
		idx := int(p*float64(n-1) + 0.5)
		if idx > n-1 {
			idx = n - 1
		}
		return sorted[idx]
	}

	return LatencySnapshot{
		Avg:   rm.durationSum / float64(n),
		P50:   pct(0.50),
		P95:   pct(0.95),
		P99:   pct(0.99),
		Count: n,
	}
}

type persistedDoc struct {
	Version   int                      `json:"version"`
	StartTime float64                  `json:"start_time"`
	Routes    map[string]RouteSnapshot `json:"routes"`
}

func (t *Tracker) persistLocked() {
	if t.persistPath == "" {
		return
	}
	snap := t.snapshotLocked()
	doc := persistedDoc{Version: schemaVersion, StartTime: snap.StartTime, Routes: snap.Routes}
	if err := persist.SaveJSON(t.persistPath, doc); err != nil {
		slog.Warn("metrics persistence failed", "path", t.persistPath, "error", err)
	}
}

// loadLocked restores a persisted snapshot. Latency windows are not
// restored; only counters and usage totals survive a restart.
func (t *Tracker) loadLocked() {
	var doc persistedDoc
	err := persist.LoadJSON(t.persistPath, &doc)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("metrics load failed", "path", t.persistPath, "error", err)
		return
	}
	if doc.Version != schemaVersion {
		slog.Warn("metrics snapshot has incompatible version, starting fresh",
			"path", t.persistPath, "version", doc.Version)
		return
	}

	if doc.StartTime > 0 {
		t.startTime = doc.StartTime
	}
	t.routes = make(map[string]*routeMetrics, len(doc.Routes))
	for route, rs := range doc.Routes {
		rm := newRouteMetrics()
		rm.count = rs.Count
		rm.errorCount = rs.ErrorCount
		if rs.LastSeen > 0 {
			rm.lastSeen = rs.LastSeen
		}
		rm.usage = rs.Usage
		for k, v := range rs.ByModel {
			rm.byModel[k] = v
		}
		for k, v := range rs.ByResource {
			rm.byResource[k] = v
		}
		for k, v := range rs.ByUser {
			rm.byUser[k] = v
		}
		t.routes[route] = rm
	}
}

func addKeyed(m map[string]TokenUsage, key string, usage domain.Usage) {
	u := m[key]
	u.add(usage)
	m[key] = u
}

func copyKeyed(m map[string]TokenUsage) map[string]TokenUsage {
	out := make(map[string]TokenUsage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Package telemetry keeps in-process request and scheduling metrics and
// serves them in the Prometheus text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/internal/platform/notify"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram stores non-cumulative bucket counts; export accumulates them.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, bucketCounts: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		out[i] = running
	}
	return out
}

// Metrics is the process-wide registry. It implements notify.Notifier so the
// dispatcher counts every notification by kind.
type Metrics struct {
	mu            sync.RWMutex
	durations     map[string]*histogram // method|route|status
	notifications map[string]*int64     // kind
	active        int64
	pool          func() (acquired, idle int64)
}

func New() *Metrics {
	return &Metrics{
		durations:     make(map[string]*histogram),
		notifications: make(map[string]*int64),
	}
}

// WithPool reports database pool connection counts on every scrape.
func (m *Metrics) WithPool(stats func() (acquired, idle int64)) *Metrics {
	m.pool = stats
	return m
}

func labelsKey(method, route string, status int) string {
	return method + "|" + route + "|" + strconv.Itoa(status)
}

func (m *Metrics) observe(key string, seconds float64) {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.durations[key]; !ok {
			h = newHistogram(durationBuckets)
			m.durations[key] = h
		}
		m.mu.Unlock()
	}
	h.Observe(seconds)
}

// Middleware records the duration of every request by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			defer atomic.AddInt64(&m.active, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.observe(labelsKey(c.Request().Method, route, status), time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Notify(_ context.Context, msg notify.Message) error {
	kind := string(msg.Kind)
	m.mu.RLock()
	p, ok := m.notifications[kind]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if p, ok = m.notifications[kind]; !ok {
			p = new(int64)
			m.notifications[kind] = p
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
	return nil
}

// Notifications returns how many messages of kind have been seen.
func (m *Metrics) Notifications(kind notify.Kind) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.notifications[string(kind)]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler serves GET /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, m.Expose())
	}
}

// Expose renders every metric in the text exposition format.
func (m *Metrics) Expose() string {
	var b strings.Builder

	m.mu.RLock()
	durations := make(map[string]*histogram, len(m.durations))
	for k, v := range m.durations {
		durations[k] = v
	}
	notifications := make(map[string]int64, len(m.notifications))
	for k, p := range m.notifications {
		notifications[k] = atomic.LoadInt64(p)
	}
	m.mu.RUnlock()

	b.WriteString("# HELP orsched_http_request_duration_seconds Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE orsched_http_request_duration_seconds histogram\n")
	for _, key := range sortedKeys(durations) {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(&b, "orsched_http_request_duration_seconds", labels, durations[key])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP orsched_http_active_requests Requests currently being served.\n")
	b.WriteString("# TYPE orsched_http_active_requests gauge\n")
	fmt.Fprintf(&b, "orsched_http_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	b.WriteString("# HELP orsched_notifications_total Notifications dispatched by kind.\n")
	b.WriteString("# TYPE orsched_notifications_total counter\n")
	for _, kind := range sortedKeys(notifications) {
		fmt.Fprintf(&b, "orsched_notifications_total{kind=%q} %d\n", kind, notifications[kind])
	}
	b.WriteByte('\n')

	if m.pool != nil {
		acquired, idle := m.pool()
		b.WriteString("# HELP orsched_db_pool_acquired_connections Database connections in use.\n")
		b.WriteString("# TYPE orsched_db_pool_acquired_connections gauge\n")
		fmt.Fprintf(&b, "orsched_db_pool_acquired_connections %d\n", acquired)
		b.WriteString("# HELP orsched_db_pool_idle_connections Idle database connections.\n")
		b.WriteString("# TYPE orsched_db_pool_idle_connections gauge\n")
		fmt.Fprintf(&b, "orsched_db_pool_idle_connections %d\n", idle)
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulative()
	total := h.Count()
	for i, bound := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, bound, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

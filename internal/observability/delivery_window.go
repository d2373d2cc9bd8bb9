package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DeliveryOpStats summarizes recent latency for one channel operation.
type DeliveryOpStats struct {
	Op          string  `json:"op"`
	Samples     int     `json:"samples"`
	Failures    int     `json:"failures"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// DeliverySnapshot is the rolling view served by the perf endpoint.
type DeliverySnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	WindowSize  int               `json:"window_size"`
	Ops         []DeliveryOpStats `json:"ops"`
}

// DeliveryWindow keeps a bounded ring of latency samples per channel
// operation so slow surfaces show up without scraping Prometheus.
type DeliveryWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*deliveryBuffer
	failures   map[string]int
}

type deliveryBuffer struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func NewDeliveryWindow(maxSamples int) *DeliveryWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &DeliveryWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*deliveryBuffer),
		failures:   make(map[string]int),
	}
}

// Observe records one settled delivery call.
func (w *DeliveryWindow) Observe(op string, elapsed time.Duration, failed bool) {
	if op == "" || elapsed < 0 {
		return
	}
	ms := float64(elapsed.Milliseconds())

	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.ops[op]
	if !ok {
		buf = &deliveryBuffer{values: make([]float64, w.maxSamples)}
		w.ops[op] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
	if failed {
		w.failures[op]++
	}
}

func (w *DeliveryWindow) Snapshot() DeliverySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.ops))
	for op := range w.ops {
		keys = append(keys, op)
	}
	sort.Strings(keys)

	ops := make([]DeliveryOpStats, 0, len(keys))
	for _, op := range keys {
		buf := w.ops[op]
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}

		ops = append(ops, DeliveryOpStats{
			Op:          op,
			Samples:     n,
			Failures:    w.failures[op],
			LastMS:      round2(buf.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: opTargetP95MS(op),
		})
	}

	return DeliverySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Ops:         ops,
	}
}

func (w *DeliveryWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops = make(map[string]*deliveryBuffer)
	w.failures = make(map[string]int)
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// opTargetP95MS returns the latency budget a healthy surface should meet.
func opTargetP95MS(op string) float64 {
	switch op {
	case "create":
		return 800
	case "update":
		return 600
	case "typing":
		return 300
	default:
		return 0
	}
}

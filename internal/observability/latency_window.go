package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Per-stage p95 budgets for one caller turn on the phone line. A caller
// notices silence after roughly a second, so first audio gets the largest
// share and everything before it has to fit inside.
var stageBudgets = map[string]time.Duration{
	"utterance_to_turn_result": 150 * time.Millisecond,
	"tts_first_byte":           400 * time.Millisecond,
	"utterance_to_first_audio": 900 * time.Millisecond,
	"turn_total":               250 * time.Millisecond,
}

// StageStats summarizes the samples of one stage currently in the window.
// OverTarget counts samples above the stage budget; Breached means the p95
// itself is over it.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`
	Breached    bool    `json:"breached,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Breached    []string     `json:"breached,omitempty"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// latencyWindow holds the most recent samples per stage. Stages are keyed as
// "<stage>" or "<stage>/<channel>"; a channel-scoped stage inherits the budget
// of its base stage.
type latencyWindow struct {
	mu       sync.Mutex
	size     int
	now      func() time.Time
	samples  map[string]*sampleRing
	counters map[string]int
}

type sampleRing struct {
	buf  []time.Duration
	n    int
	head int
}

func (r *sampleRing) push(d time.Duration) {
	r.buf[r.head] = d
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *sampleRing) latest() time.Duration {
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

// ordered returns the samples in the window sorted ascending.
func (r *sampleRing) ordered() []time.Duration {
	out := slices.Clone(r.buf[:r.n])
	slices.Sort(out)
	return out
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:     size,
		now:      func() time.Time { return time.Now().UTC() },
		samples:  make(map[string]*sampleRing),
		counters: make(map[string]int),
	}
}

func (w *latencyWindow) observe(stage, channel string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.push(stage, d)
	if channel != "" {
		w.push(stage+"/"+channel, d)
	}
}

func (w *latencyWindow) push(key string, d time.Duration) {
	r, ok := w.samples[key]
	if !ok {
		r = &sampleRing{buf: make([]time.Duration, w.size)}
		w.samples[key] = r
	}
	r.push(d)
}

func (w *latencyWindow) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counters[name]++
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: w.now(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.samples)),
	}
	keys := make([]string, 0, len(w.samples))
	for k := range w.samples {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		r := w.samples[key]
		if r.n == 0 {
			continue
		}
		st := summarize(key, r)
		if st.Breached {
			snap.Breached = append(snap.Breached, key)
		}
		snap.Stages = append(snap.Stages, st)
	}

	names := make([]string, 0, len(w.counters))
	for name := range w.counters {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.counters[name]})
	}
	return snap
}

func summarize(key string, r *sampleRing) StageStats {
	sorted := r.ordered()
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	st := StageStats{
		Stage:   key,
		Samples: len(sorted),
		LastMS:  ms(r.latest()),
		AvgMS:   ms(sum / time.Duration(len(sorted))),
		P50MS:   ms(percentile(sorted, 0.50)),
		P95MS:   ms(percentile(sorted, 0.95)),
		P99MS:   ms(percentile(sorted, 0.99)),
	}
	base, _, _ := strings.Cut(key, "/")
	if budget, ok := stageBudgets[base]; ok {
		st.TargetP95MS = ms(budget)
		idx, _ := slices.BinarySearch(sorted, budget+1)
		st.OverTarget = len(sorted) - idx
		st.Breached = st.P95MS > st.TargetP95MS
	}
	return st
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = make(map[string]*sampleRing)
	w.counters = make(map[string]int)
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []time.Duration, q float64) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	frac := idx - float64(lo)
	return time.Duration(float64(sorted[lo])*(1-frac) + float64(sorted[hi])*frac)
}

// ms converts to milliseconds rounded to two decimals.
func ms(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

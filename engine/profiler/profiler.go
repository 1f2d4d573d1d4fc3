package profiler

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// PassStats is the running total for one pass name.
type PassStats struct {
	Count int
	Total time.Duration
	Max   time.Duration
}

// Profiler times named passes (merge, clear, update, upload) and reports memory
// statistics to the log at a configurable interval.
type Profiler struct {
	mu             sync.Mutex
	logger         *slog.Logger
	now            func() time.Time
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	passes         map[string]*PassStats
}

// Span is one running measurement started by Begin.
type Span struct {
	p     *Profiler
	name  string
	start time.Time
}

// NewProfiler creates a new Profiler. The report interval defaults to 1 second.
//
// Parameters:
//   - options: variadic list of ProfilerBuilderOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		logger:         slog.Default(),
		now:            time.Now,
		updateInterval: time.Second,
		passes:         make(map[string]*PassStats),
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Begin starts timing a pass.
//
// Parameters:
//   - name: the pass name totals are kept under
//
// Returns:
//   - *Span: call End when the pass finishes
func (p *Profiler) Begin(name string) *Span {
	return &Span{p: p, name: name, start: p.now()}
}

// End stops the span, adds it to the pass totals and reports memory statistics when
// the update interval has elapsed.
//
// Returns:
//   - time.Duration: the span's duration
func (s *Span) End() time.Duration {
	p := s.p
	now := p.now()
	d := now.Sub(s.start)

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.passes[s.name]
	if !ok {
		st = &PassStats{}
		p.passes[s.name] = st
	}
	st.Count++
	st.Total += d
	st.Max = max(st.Max, d)

	p.logger.Debug("[Profiler] pass", "name", s.name, "duration", d)
	if now.Sub(p.lastTime) >= p.updateInterval {
		p.report(now)
	}
	return d
}

// Stats returns the totals recorded for a pass name.
func (p *Profiler) Stats(name string) (PassStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.passes[name]
	if !ok {
		return PassStats{}, false
	}
	return *st, true
}

// Report logs memory statistics immediately.
func (p *Profiler) Report() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report(p.now())
}

// report logs heap usage, allocation rate and GC pauses since the previous report.
// Callers hold p.mu.
func (p *Profiler) report(now time.Time) {
	elapsed := now.Sub(p.lastTime)

	runtime.ReadMemStats(&p.memStats)
	// Alloc: live heap bytes. TotalAlloc: cumulative, tracks churn. Sys: process footprint.
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	var allocRateMB float64
	if elapsed > 0 {
		allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
		allocRateMB = float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()
	}

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	p.logger.Info("[Profiler] memory",
		"heapMB", allocMB,
		"allocRateMBs", allocRateMB,
		"gc", gcCount,
		"lastPauseUs", lastPauseUs,
		"maxPauseUs", maxPauseUs,
		"sysMB", sysMB,
	)

	p.lastTime = now
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
}

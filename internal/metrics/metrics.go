// Package metrics keeps the engine's counters and latency histograms on
// relaxed atomics and exposes them as a Prometheus collector.
package metrics

import "sync/atomic"

// BucketUpperBoundsMs are the finite histogram bounds; the 13th bucket is
// +Inf.
var BucketUpperBoundsMs = [...]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// BucketCount includes the +Inf bucket.
const BucketCount = len(BucketUpperBoundsMs) + 1

const (
	httpStatusMin = 100
	httpStatusMax = 599
)

// Metrics is the mutable engine-wide metrics state. All fields are atomics;
// a snapshot is a set of independent reads and is only eventually
// consistent across counters.
type Metrics struct {
	requestsOk      atomic.Uint64
	requestsFail    atomic.Uint64
	renderErrors    atomic.Uint64
	poolTimeouts    atomic.Uint64
	renderTimeouts  atomic.Uint64
	runtimeRecycles atomic.Uint64

	totalAcquireWaitUs atomic.Uint64
	totalRenderUs      atomic.Uint64
	totalWrapUs        atomic.Uint64
	totalRequestUs     atomic.Uint64

	acquireWaitBuckets    [BucketCount]atomic.Uint64
	renderLatencyBuckets  [BucketCount]atomic.Uint64
	requestLatencyBuckets [BucketCount]atomic.Uint64

	requestCodes [httpStatusMax + 1]atomic.Uint64
}

// Snapshot mirrors the counter state at roughly one instant.
type Snapshot struct {
	RequestsOk      uint64
	RequestsFail    uint64
	RenderErrors    uint64
	PoolTimeouts    uint64
	RenderTimeouts  uint64
	RuntimeRecycles uint64

	TotalAcquireWaitUs uint64
	TotalRenderUs      uint64
	TotalWrapUs        uint64
	TotalRequestUs     uint64
	TotalAcquireWaitMs uint64
	TotalRenderMs      uint64
	TotalWrapMs        uint64
	TotalRequestMs     uint64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncRequestsOk()      { m.requestsOk.Add(1) }
func (m *Metrics) IncRequestsFail()    { m.requestsFail.Add(1) }
func (m *Metrics) IncRenderErrors()    { m.renderErrors.Add(1) }
func (m *Metrics) IncPoolTimeouts()    { m.poolTimeouts.Add(1) }
func (m *Metrics) IncRenderTimeouts()  { m.renderTimeouts.Add(1) }
func (m *Metrics) IncRuntimeRecycles() { m.runtimeRecycles.Add(1) }

func (m *Metrics) AddAcquireWaitUs(us uint64) { m.totalAcquireWaitUs.Add(us) }
func (m *Metrics) AddRenderUs(us uint64)      { m.totalRenderUs.Add(us) }
func (m *Metrics) AddWrapUs(us uint64)        { m.totalWrapUs.Add(us) }
func (m *Metrics) AddRequestUs(us uint64)     { m.totalRequestUs.Add(us) }

func (m *Metrics) PoolTimeouts() uint64    { return m.poolTimeouts.Load() }
func (m *Metrics) RenderTimeouts() uint64  { return m.renderTimeouts.Load() }
func (m *Metrics) RuntimeRecycles() uint64 { return m.runtimeRecycles.Load() }
func (m *Metrics) RequestsOk() uint64      { return m.requestsOk.Load() }

// ObserveAcquireWait records one acquire wait in milliseconds.
func (m *Metrics) ObserveAcquireWait(valueMs float64) {
	m.acquireWaitBuckets[bucketIndex(valueMs)].Add(1)
}

// ObserveRenderLatency records one successful render's latency.
func (m *Metrics) ObserveRenderLatency(valueMs float64) {
	m.renderLatencyBuckets[bucketIndex(valueMs)].Add(1)
}

// ObserveRequestLatency records one end-to-end request latency.
func (m *Metrics) ObserveRequestLatency(valueMs float64) {
	m.requestLatencyBuckets[bucketIndex(valueMs)].Add(1)
}

// ObserveRequestCode counts the response's HTTP status. Codes outside
// 100..599 are dropped.
func (m *Metrics) ObserveRequestCode(statusCode int) {
	if statusCode < httpStatusMin || statusCode > httpStatusMax {
		return
	}
	m.requestCodes[statusCode].Add(1)
}

// Snapshot is a lock-free read of every counter.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		RequestsOk:         m.requestsOk.Load(),
		RequestsFail:       m.requestsFail.Load(),
		RenderErrors:       m.renderErrors.Load(),
		PoolTimeouts:       m.poolTimeouts.Load(),
		RenderTimeouts:     m.renderTimeouts.Load(),
		RuntimeRecycles:    m.runtimeRecycles.Load(),
		TotalAcquireWaitUs: m.totalAcquireWaitUs.Load(),
		TotalRenderUs:      m.totalRenderUs.Load(),
		TotalWrapUs:        m.totalWrapUs.Load(),
		TotalRequestUs:     m.totalRequestUs.Load(),
	}
	s.TotalAcquireWaitMs = s.TotalAcquireWaitUs / 1000
	s.TotalRenderMs = s.TotalRenderUs / 1000
	s.TotalWrapMs = s.TotalWrapUs / 1000
	s.TotalRequestMs = s.TotalRequestUs / 1000
	return s
}

func bucketIndex(valueMs float64) int {
	for i, upper := range BucketUpperBoundsMs {
		if valueMs <= upper {
			return i
		}
	}
	return len(BucketUpperBoundsMs)
}

// cumulativeBuckets converts per-bucket counts into the cumulative
// count-by-upper-bound map Prometheus histograms use, returning the total
// observation count alongside.
func cumulativeBuckets(buckets *[BucketCount]atomic.Uint64) (map[float64]uint64, uint64) {
	out := make(map[float64]uint64, len(BucketUpperBoundsMs))
	var cumulative uint64
	for i, upper := range BucketUpperBoundsMs {
		cumulative += buckets[i].Load()
		out[upper] = cumulative
	}
	cumulative += buckets[len(BucketUpperBoundsMs)].Load()
	return out, cumulative
}

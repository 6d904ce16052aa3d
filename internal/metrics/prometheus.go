package metrics

import (
	"bytes"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// ContentType is the exposition content type served by the metrics
// endpoint.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

var (
	acquireWaitDesc = prometheus.NewDesc(
		"hydra_acquire_wait_ms",
		"Hydra runtime acquire wait histogram in milliseconds.",
		nil, nil)
	renderLatencyDesc = prometheus.NewDesc(
		"hydra_render_latency_ms",
		"Hydra engine-side SSR render latency histogram in milliseconds.",
		nil, nil)
	requestLatencyDesc = prometheus.NewDesc(
		"hydra_request_total_ms",
		"Hydra end-to-end request latency histogram in milliseconds.",
		nil, nil)
	poolInUseDesc = prometheus.NewDesc(
		"hydra_pool_in_use",
		"Number of SSR runtimes currently leased.",
		nil, nil)
	poolSizeDesc = prometheus.NewDesc(
		"hydra_pool_size",
		"Total SSR runtimes in the pool.",
		nil, nil)
	renderTimeoutsDesc = prometheus.NewDesc(
		"hydra_render_timeouts_total",
		"Total SSR render timeout terminations.",
		nil, nil)
	recyclesDesc = prometheus.NewDesc(
		"hydra_recycles_total",
		"Total runtime recycle events.",
		nil, nil)
	renderErrorsDesc = prometheus.NewDesc(
		"hydra_render_errors_total",
		"Total SSR render failures.",
		nil, nil)
	requestsDesc = prometheus.NewDesc(
		"hydra_requests_total",
		"Total SSR requests by status.",
		[]string{"status"}, nil)
	requestsByCodeDesc = prometheus.NewDesc(
		"hydra_requests_by_code_total",
		"Total SSR requests by HTTP status code.",
		[]string{"code"}, nil)
)

// PoolStatsFunc reports the pool gauges at scrape time.
type PoolStatsFunc func() (inUse, size int)

// Exporter adapts Metrics to a prometheus.Collector and renders the text
// exposition.
type Exporter struct {
	metrics  *Metrics
	pool     PoolStatsFunc
	registry *prometheus.Registry
}

// NewExporter registers the collector on a private registry so the host
// application's default registry stays untouched.
func NewExporter(m *Metrics, pool PoolStatsFunc) *Exporter {
	e := &Exporter{metrics: m, pool: pool, registry: prometheus.NewRegistry()}
	e.registry.MustRegister(e)
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- acquireWaitDesc
	ch <- renderLatencyDesc
	ch <- requestLatencyDesc
	ch <- poolInUseDesc
	ch <- poolSizeDesc
	ch <- renderTimeoutsDesc
	ch <- recyclesDesc
	ch <- renderErrorsDesc
	ch <- requestsDesc
	ch <- requestsByCodeDesc
}

// Collect implements prometheus.Collector. Histogram counts follow the
// engine's convention: acquire and request histograms count every request,
// the render histogram counts successful renders only.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snapshot := e.metrics.Snapshot()
	totalRequests := snapshot.RequestsOk + snapshot.RequestsFail

	acquireBuckets, _ := cumulativeBuckets(&e.metrics.acquireWaitBuckets)
	ch <- prometheus.MustNewConstHistogram(
		acquireWaitDesc,
		totalRequests,
		float64(snapshot.TotalAcquireWaitUs)/1000.0,
		acquireBuckets)

	renderBuckets, _ := cumulativeBuckets(&e.metrics.renderLatencyBuckets)
	ch <- prometheus.MustNewConstHistogram(
		renderLatencyDesc,
		snapshot.RequestsOk,
		float64(snapshot.TotalRenderUs)/1000.0,
		renderBuckets)

	requestBuckets, _ := cumulativeBuckets(&e.metrics.requestLatencyBuckets)
	ch <- prometheus.MustNewConstHistogram(
		requestLatencyDesc,
		totalRequests,
		float64(snapshot.TotalRequestUs)/1000.0,
		requestBuckets)

	inUse, size := 0, 0
	if e.pool != nil {
		inUse, size = e.pool()
	}
	ch <- prometheus.MustNewConstMetric(poolInUseDesc, prometheus.GaugeValue, float64(inUse))
	ch <- prometheus.MustNewConstMetric(poolSizeDesc, prometheus.GaugeValue, float64(size))

	ch <- prometheus.MustNewConstMetric(renderTimeoutsDesc, prometheus.CounterValue, float64(snapshot.RenderTimeouts))
	ch <- prometheus.MustNewConstMetric(recyclesDesc, prometheus.CounterValue, float64(snapshot.RuntimeRecycles))
	ch <- prometheus.MustNewConstMetric(renderErrorsDesc, prometheus.CounterValue, float64(snapshot.RenderErrors))
	ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(snapshot.RequestsOk), "ok")
	ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(snapshot.RequestsFail), "fail")

	for code := httpStatusMin; code <= httpStatusMax; code++ {
		count := e.metrics.requestCodes[code].Load()
		if count == 0 {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			requestsByCodeDesc,
			prometheus.CounterValue,
			float64(count),
			strconv.Itoa(code))
	}
}

// Text renders the Prometheus text exposition format.
func (e *Exporter) Text() string {
	families, err := e.registry.Gather()
	if err != nil {
		return ""
	}

	var out bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&out, family); err != nil {
			return ""
		}
	}
	return out.String()
}

package metrics

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "vehicle_"

	resultSuccess = "success"
	resultError   = "error"

	lineResultParsed = "parsed"
	lineResultEmpty  = "empty"

	passResultCommitted = "committed"
	passResultSkipped   = "skipped"
	passResultFailed    = "failed"
)

var (
	registerOnce sync.Once

	ingestLines        *prometheus.CounterVec
	ingestDropped      prometheus.Counter
	sourceErrors       *prometheus.CounterVec
	sourceConnected    prometheus.Gauge
	liveSubscribers    *prometheus.GaugeVec
	liveBroadcastTime  prometheus.Histogram
	liveSendFailures   *prometheus.CounterVec
	liveFramesDropped  *prometheus.CounterVec
	aggregationPasses  *prometheus.CounterVec
	aggregationLatency *prometheus.HistogramVec
	logbookWrites      *prometheus.CounterVec
)

// Init registers pipeline metrics and, when counter is set, storage-backed gauges.
func Init(counter RowCounter, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestLines = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_lines_total",
				Help: "Total sensor lines read by result",
			},
			[]string{"result"},
		)
		ingestDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_segments_dropped_total",
				Help: "Malformed line segments skipped by the parser",
			},
		)
		sourceErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "source_errors_total",
				Help: "Sensor source errors by reason",
			},
			[]string{"reason"},
		)
		sourceConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "source_open",
				Help: "1 while the sensor source is open",
			},
		)
		liveSubscribers = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_subscribers",
				Help: "Registered live subscribers by stream",
			},
			[]string{"stream"},
		)
		liveBroadcastTime = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "live_broadcast_seconds",
				Help:    "Time to hand one frame to every subscriber",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
			},
		)
		liveSendFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_send_failures_total",
				Help: "Subscribers removed after a failed send by stream",
			},
			[]string{"stream"},
		)
		liveFramesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_frames_dropped_total",
				Help: "Frames dropped for a subscriber with a full queue",
			},
			[]string{"stream"},
		)
		aggregationPasses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregation_passes_total",
				Help: "Aggregation passes by window and result",
			},
			[]string{"window", "result"},
		)
		aggregationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregation_write_seconds",
				Help:    "Aggregate compute and write latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"window", "result"},
		)
		logbookWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "logbook_writes_total",
				Help: "Raw log rows written by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ingestLines,
			ingestDropped,
			sourceErrors,
			sourceConnected,
			liveSubscribers,
			liveBroadcastTime,
			liveSendFailures,
			liveFramesDropped,
			aggregationPasses,
			aggregationLatency,
			logbookWrites,
		)

		if counter != nil {
			registerStorageMetrics(counter, logger)
		}
	})
}

// IncLine counts one sensor line.
func IncLine(parsed bool) {
	result := lineResultEmpty
	if parsed {
		result = lineResultParsed
	}
	if ingestLines != nil {
		ingestLines.WithLabelValues(result).Inc()
	}
}

// AddDroppedSegments counts malformed segments.
func AddDroppedSegments(count int) {
	if count <= 0 {
		return
	}
	if ingestDropped != nil {
		ingestDropped.Add(float64(count))
	}
}

// IncSourceError counts a sensor source error.
func IncSourceError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if sourceErrors != nil {
		sourceErrors.WithLabelValues(reason).Inc()
	}
}

// SetSourceOpen records whether the sensor source is open.
func SetSourceOpen(open bool) {
	if sourceConnected == nil {
		return
	}
	if open {
		sourceConnected.Set(1)
		return
	}
	sourceConnected.Set(0)
}

// SetSubscribers sets the subscriber count of a stream.
func SetSubscribers(stream string, count int) {
	if liveSubscribers != nil {
		liveSubscribers.WithLabelValues(stream).Set(float64(count))
	}
}

// ObserveBroadcast records the duration of one broadcast.
func ObserveBroadcast(duration time.Duration) {
	if liveBroadcastTime != nil {
		liveBroadcastTime.Observe(duration.Seconds())
	}
}

// IncSendFailure counts a subscriber removed after a failed send.
func IncSendFailure(stream string) {
	if liveSendFailures != nil {
		liveSendFailures.WithLabelValues(stream).Inc()
	}
}

// IncFrameDropped counts a frame dropped for a slow subscriber.
func IncFrameDropped(stream string) {
	if liveFramesDropped != nil {
		liveFramesDropped.WithLabelValues(stream).Inc()
	}
}

// ObserveAggregation records one aggregation pass.
func ObserveAggregation(window, result string, duration time.Duration) {
	if result == "" {
		result = passResultCommitted
	}
	if aggregationPasses != nil {
		aggregationPasses.WithLabelValues(window, result).Inc()
	}
	if aggregationLatency != nil && result != passResultSkipped {
		aggregationLatency.WithLabelValues(window, result).Observe(duration.Seconds())
	}
}

// IncLogbookWrite counts a raw log row write.
func IncLogbookWrite(result string) {
	if result == "" {
		result = resultSuccess
	}
	if logbookWrites != nil {
		logbookWrites.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	PassCommitted = passResultCommitted
	PassSkipped   = passResultSkipped
	PassFailed    = passResultFailed
)

// Package metrics registers and records Prometheus metrics for randomness
// analysis, bit generation, comparisons, the REST API and the optional TDC
// ingest path (MQTT, collector, whitening and entropy pool).
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal               *prometheus.CounterVec
	AnalysisScore               *prometheus.HistogramVec
	AnalysisVerdicts            *prometheus.CounterVec
	TestFailures                *prometheus.CounterVec
	GenerationDuration          *prometheus.HistogramVec
	GenerationErrors            *prometheus.CounterVec
	GeneratedBits               *prometheus.CounterVec
	FallbacksTotal              prometheus.Counter
	ComparisonsTotal            *prometheus.CounterVec
	BenchmarkRuns               *prometheus.CounterVec
	APIRequests                 *prometheus.CounterVec
	APILatency                  *prometheus.HistogramVec
	APIRateLimited              prometheus.Counter
	EventsReceived              *prometheus.CounterVec
	EventsProcessed             prometheus.Counter
	EventsDropped               *prometheus.CounterVec
	EventFormatType             *prometheus.CounterVec
	EventsPerChannel            *prometheus.CounterVec
	WhiteningInputBytes         prometheus.Counter
	WhiteningOutputBytes        prometheus.Counter
	WhiteningCompressionRatio   prometheus.Histogram
	EntropyExtractions          prometheus.Counter
	EntropyExtractedBytes       prometheus.Counter
	EntropyPoolSize             prometheus.Gauge
	MQTTConnected               prometheus.Gauge
	MQTTReconnects              prometheus.Counter
	MQTTConnects                prometheus.Counter
	MQTTDisconnects             prometheus.Counter
	MQTTInboundMessages         prometheus.Counter
	CollectorPoolSize           prometheus.Gauge
	CollectorBatchSize          prometheus.Gauge
	CollectorFlushDuration      prometheus.Histogram
	ContinuousRCTFailures       prometheus.Counter
	ContinuousAPTFailures       prometheus.Counter
	MinEntropyEstimateMCV       prometheus.Histogram
	MinEntropyEstimateCollision prometheus.Histogram
	ProcessingLatency           prometheus.Histogram

	metricsMu         sync.RWMutex
	currentRegisterer prometheus.Registerer = prometheus.DefaultRegisterer
	registered        []prometheus.Collector
)

func init() {
	resetMetrics(prometheus.DefaultRegisterer)
}

// SetRegisterer moves every collector to registerer and returns the
// registerer they were on before.
func SetRegisterer(registerer prometheus.Registerer) prometheus.Registerer {
	return resetMetrics(registerer)
}

// ResetForTesting recreates every collector on registerer. Collectors are
// unregistered from the previous registerer first, so repeated calls never
// collide.
func ResetForTesting(registerer prometheus.Registerer) {
	resetMetrics(registerer)
}

func resetMetrics(registerer prometheus.Registerer) prometheus.Registerer {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	previous := currentRegisterer
	if previous != nil {
		for _, c := range registered {
			previous.Unregister(c)
		}
	}
	currentRegisterer = registerer
	initializeMetrics(registerer)
	return previous
}

// track remembers a collector so resetMetrics can unregister it.
func track[C prometheus.Collector](c C) C {
	registered = append(registered, c)
	return c
}

// initializeMetrics creates every collector on registerer. The caller must
// hold metricsMu.
func initializeMetrics(registerer prometheus.Registerer) {
	factory := promauto.With(registerer)
	registered = registered[:0]

	counter := func(name, help string) prometheus.Counter {
		return track(factory.NewCounter(prometheus.CounterOpts{Name: name, Help: help}))
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return track(factory.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels))
	}
	gauge := func(name, help string) prometheus.Gauge {
		return track(factory.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}))
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return track(factory.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}))
	}
	histogramVec := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return track(factory.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels))
	}

	// Randomness analysis and generation.
	AnalysesTotal = counterVec("randomness_analyses_total", "Total number of bit sequences analysed, by origin", "origin")
	AnalysisScore = histogramVec("randomness_analysis_score", "Overall randomness score (0-100) per analysis", prometheus.LinearBuckets(0, 100.0/6, 7), "origin")
	AnalysisVerdicts = counterVec("randomness_verdicts_total", "Total number of analyses by verdict", "verdict")
	TestFailures = counterVec("randomness_test_failures_total", "Total number of failed statistical tests, by test", "test_type")
	GenerationDuration = histogramVec("bit_generation_duration_seconds", "Time taken to generate a bit sequence, by source", prometheus.ExponentialBuckets(0.00001, 4, 12), "source")
	GenerationErrors = counterVec("bit_generation_errors_total", "Total number of failed generation calls, by mode", "mode")
	GeneratedBits = counterVec("bits_generated_total", "Total number of bits produced, by source", "source")
	FallbacksTotal = counter("simulator_fallbacks_total", "Total number of simulator failures replaced by the cryptographic fallback")
	ComparisonsTotal = counterVec("comparisons_total", "Total number of classical versus quantum comparisons, by mode and entropy-score winner", "mode", "winner")
	BenchmarkRuns = counterVec("benchmark_runs_total", "Total number of benchmark runs, by method", "method")

	// REST API.
	APIRequests = counterVec("api_requests_total", "Total number of REST API requests by route and status code", "route", "code")
	APILatency = histogramVec("api_latency_seconds", "Latency of REST API requests", prometheus.ExponentialBuckets(0.0005, 2, 16), "route")
	APIRateLimited = counter("api_rate_limited_total", "Total number of REST API requests rejected by the rate limiter")

	// TDC ingest.
	EventsReceived = counterVec("tdc_events_received_total", "Total number of TDC events received from MQTT", "channel")
	EventsProcessed = counter("tdc_events_processed_total", "Total number of TDC events successfully processed")
	EventsDropped = counterVec("tdc_events_dropped_total", "Total number of TDC events dropped", "reason")
	EventFormatType = counterVec("tdc_event_format_type_total", "Total number of TDC events by format type", "format")
	EventsPerChannel = counterVec("tdc_events_per_channel_total", "Total number of TDC events per channel", "channel")

	// Whitening and the entropy pool.
	WhiteningInputBytes = counter("whitening_input_bytes_total", "Total raw bytes fed into the whitening pipeline")
	WhiteningOutputBytes = counter("whitening_output_bytes_total", "Total conditioned bytes produced by the whitening pipeline")
	WhiteningCompressionRatio = histogram("whitening_compression_ratio", "Ratio of whitened output bytes to raw input bytes", prometheus.LinearBuckets(0, 0.1, 11))
	EntropyExtractions = counter("entropy_extractions_total", "Total number of successful extractions from the entropy pool")
	EntropyExtractedBytes = counter("entropy_extracted_bytes_total", "Total bytes extracted from the entropy pool")
	EntropyPoolSize = gauge("entropy_pool_size_bytes", "Current number of whitened bytes held in the entropy pool")

	// MQTT transport.
	MQTTConnected = gauge("mqtt_connected", "MQTT connection status (1=connected, 0=disconnected)")
	MQTTReconnects = counter("mqtt_reconnects_total", "Total number of MQTT reconnection attempts")
	MQTTConnects = counter("mqtt_connects_total", "Total number of successful MQTT connections")
	MQTTDisconnects = counter("mqtt_disconnects_total", "Total number of MQTT disconnects")
	MQTTInboundMessages = counter("mqtt_in_msgs_total", "Total number of inbound MQTT messages")

	// Batch collector.
	CollectorPoolSize = gauge("collector_pool_size", "Current number of events buffered by the collector")
	CollectorBatchSize = gauge("collector_batch_size_events", "Configured collector batch size")
	CollectorFlushDuration = histogram("collector_flush_duration_seconds", "Duration of collector flushes into the entropy pool", prometheus.ExponentialBuckets(0.0001, 2, 15))

	// Continuous health and min-entropy.
	ContinuousRCTFailures = counter("continuous_rct_failures_total", "Total number of NIST SP 800-90B repetition count test failures")
	ContinuousAPTFailures = counter("continuous_apt_failures_total", "Total number of NIST SP 800-90B adaptive proportion test failures")
	MinEntropyEstimateMCV = histogram("min_entropy_estimate_mcv_bits_per_byte", "Min-entropy estimate using the most common value method", prometheus.LinearBuckets(0, 0.5, 17))
	MinEntropyEstimateCollision = histogram("min_entropy_estimate_collision_bits_per_byte", "Min-entropy estimate using the collision method", prometheus.LinearBuckets(0, 0.5, 17))
	ProcessingLatency = histogram("tdc_processing_latency_seconds", "Latency from MQTT receipt to collector enqueue", prometheus.ExponentialBuckets(0.00001, 2, 16))
}

// RecordAnalysis records one completed analysis. origin names the caller
// (api, cli, compare, tdc_pool).
func RecordAnalysis(origin string, score float64, verdict string, failedTests []string) {
	AnalysesTotal.WithLabelValues(origin).Inc()
	AnalysisScore.WithLabelValues(origin).Observe(score)
	AnalysisVerdicts.WithLabelValues(verdict).Inc()
	for _, name := range failedTests {
		TestFailures.WithLabelValues(name).Inc()
	}
}

// RecordGeneration records a successful generation call.
func RecordGeneration(source string, bits int, elapsedMS float64) {
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	GenerationDuration.WithLabelValues(source).Observe(elapsedMS / 1000)
	if bits > 0 {
		GeneratedBits.WithLabelValues(source).Add(float64(bits))
	}
}

// RecordGenerationError records a failed generation call.
func RecordGenerationError(mode string) {
	GenerationErrors.WithLabelValues(mode).Inc()
}

// RecordFallback counts a simulator failure replaced by the fallback.
func RecordFallback() {
	FallbacksTotal.Inc()
}

// RecordComparison records a completed comparison.
func RecordComparison(mode, entropyWinner string) {
	ComparisonsTotal.WithLabelValues(mode, entropyWinner).Inc()
}

// RecordBenchmark records a completed benchmark run.
func RecordBenchmark(method string) {
	BenchmarkRuns.WithLabelValues(method).Inc()
}

// RecordAPIRequest tracks latency and status codes per route.
func RecordAPIRequest(route string, code int, duration time.Duration) {
	label := strconv.Itoa(code)
	if code <= 0 {
		label = "0"
	}
	if duration < 0 {
		duration = 0
	}
	APIRequests.WithLabelValues(route, label).Inc()
	APILatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordAPIRateLimited tracks requests rejected by the rate limiter.
func RecordAPIRateLimited() {
	APIRateLimited.Inc()
}

// RecordEvent records a received TDC event
func RecordEvent(channel uint32) {
	EventsReceived.WithLabelValues(channelLabel(channel)).Inc()
	EventsProcessed.Inc()
}

// RecordEventDropped records a dropped event with reason
func RecordEventDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// RecordFormatType records the format type of a parsed event
func RecordFormatType(format string) {
	EventFormatType.WithLabelValues(format).Inc()
}

// RecordChannelEvent records an event for a specific channel
func RecordChannelEvent(channel uint32) {
	EventsPerChannel.WithLabelValues(channelLabel(channel)).Inc()
}

// RecordWhitening records usage metrics for the whitening pipeline.
func RecordWhitening(inputBytes, outputBytes int, ratio float64) {
	if inputBytes > 0 {
		WhiteningInputBytes.Add(float64(inputBytes))

		if ratio < 0 {
			ratio = 0
		} else if ratio > 1 {
			ratio = 1
		}
		WhiteningCompressionRatio.Observe(ratio)
	}

	if outputBytes > 0 {
		WhiteningOutputBytes.Add(float64(outputBytes))
	}
}

// RecordEntropyExtraction tracks entropy extraction activity and the amount of data consumed.
func RecordEntropyExtraction(bytes int) {
	EntropyExtractions.Inc()
	if bytes > 0 {
		EntropyExtractedBytes.Add(float64(bytes))
	}
}

// SetEntropyPoolSize publishes the current size of the whitened entropy pool.
func SetEntropyPoolSize(bytes int) {
	EntropyPoolSize.Set(float64(bytes))
}

// SetMQTTConnected sets the MQTT connection status
func SetMQTTConnected(connected bool) {
	if connected {
		MQTTConnected.Set(1)
	} else {
		MQTTConnected.Set(0)
	}
}

// RecordMQTTReconnect increments MQTT reconnection counter
func RecordMQTTReconnect() {
	MQTTReconnects.Inc()
}

// RecordMQTTConnect tracks successful MQTT connections.
func RecordMQTTConnect() {
	MQTTConnects.Inc()
}

// RecordMQTTDisconnect tracks MQTT disconnects, whether expected or due to errors.
func RecordMQTTDisconnect() {
	MQTTDisconnects.Inc()
}

// RecordMQTTMessage counts inbound MQTT messages prior to validation.
func RecordMQTTMessage() {
	MQTTInboundMessages.Inc()
}

// SetCollectorPoolSize updates the current pool size
func SetCollectorPoolSize(size int) {
	CollectorPoolSize.Set(float64(size))
}

// SetCollectorBatchSize updates the configured batch size
func SetCollectorBatchSize(size int) {
	CollectorBatchSize.Set(float64(size))
}

// RecordCollectorFlush records the duration of a collector flush operation
func RecordCollectorFlush(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	CollectorFlushDuration.Observe(duration.Seconds())
}

// RecordContinuousRCTFailure increments the RCT failure counter
func RecordContinuousRCTFailure() {
	ContinuousRCTFailures.Inc()
}

// RecordContinuousAPTFailure increments the APT failure counter
func RecordContinuousAPTFailure() {
	ContinuousAPTFailures.Inc()
}

// RecordMinEntropyMCV records a min-entropy estimate using the MCV method
func RecordMinEntropyMCV(minEntropy float64) {
	MinEntropyEstimateMCV.Observe(clampBitsPerByte(minEntropy))
}

// RecordMinEntropyCollision records a min-entropy estimate using the Collision method
func RecordMinEntropyCollision(minEntropy float64) {
	MinEntropyEstimateCollision.Observe(clampBitsPerByte(minEntropy))
}

func clampBitsPerByte(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 8 {
		return 8
	}
	return v
}

// channelLabel converts channel number to string label
func channelLabel(channel uint32) string {
	if channel > 3 {
		return "unknown"
	}
	return strconv.FormatUint(uint64(channel), 10)
}

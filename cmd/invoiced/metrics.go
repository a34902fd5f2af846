// metrics.go - Operation metrics for the invoicing daemon.
package main

import (
	"fmt"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// MetricsCollector aggregates counters, gauges, and histograms in memory and
// serves them as one JSON summary.
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric
func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counters[mc.makeKey(name, labels)]++
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.gauges[mc.makeKey(name, labels)] = value
}

// RecordHistogram records a value in a histogram
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := mc.makeKey(name, labels)
	mc.histograms[key] = append(mc.histograms[key], value)

	// Keep only the last 1000 values
	if len(mc.histograms[key]) > 1000 {
		mc.histograms[key] = mc.histograms[key][len(mc.histograms[key])-1000:]
	}
}

// GetMetricsSummary returns a summary of all metrics
func (mc *MetricsCollector) GetMetricsSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	summary := make(map[string]interface{})

	counters := make(map[string]int64, len(mc.counters))
	for key, value := range mc.counters {
		counters[key] = value
	}
	summary["counters"] = counters

	gauges := make(map[string]float64, len(mc.gauges))
	for key, value := range mc.gauges {
		gauges[key] = value
	}
	summary["gauges"] = gauges

	histograms := make(map[string]map[string]float64)
	for key, values := range mc.histograms {
		if len(values) == 0 {
			continue
		}
		histogram := map[string]float64{
			"count": float64(len(values)),
			"min":   values[0],
			"max":   values[0],
			"sum":   0,
		}
		for _, value := range values {
			if value < histogram["min"] {
				histogram["min"] = value
			}
			if value > histogram["max"] {
				histogram["max"] = value
			}
			histogram["sum"] += value
		}
		histogram["avg"] = histogram["sum"] / histogram["count"]
		histograms[key] = histogram
	}
	summary["histograms"] = histograms

	return summary
}

// makeKey creates a deterministic key for a metric name and labels
func (mc *MetricsCollector) makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	key := name
	for k, v := range labels {
		key += fmt.Sprintf("_%s_%s", k, v)
	}
	return key
}

// Predefined metric names
const (
	MetricInvoicesCreated     = "invoices_created"
	MetricPayments            = "payments"
	MetricLateMarks           = "late_marks"
	MetricDisclosures         = "disclosures"
	MetricProofValidationTime = "proof_validation_time"
	MetricLedgerSize          = "ledger_size"
	MetricErrorCount          = "error_count"
	MetricRateLimited         = "rate_limited"
)

// Convenience methods for the daemon's hot paths
func (mc *MetricsCollector) RecordInvoiceCreated() {
	mc.IncrementCounter(MetricInvoicesCreated, nil)
}

func (mc *MetricsCollector) RecordPayment(verified bool) {
	mc.IncrementCounter(MetricPayments, map[string]string{"verified": fmt.Sprintf("%t", verified)})
}

func (mc *MetricsCollector) RecordDisclosure() {
	mc.IncrementCounter(MetricDisclosures, nil)
}

func (mc *MetricsCollector) RecordValidation(duration time.Duration) {
	mc.RecordHistogram(MetricProofValidationTime, duration.Seconds(), nil)
}

func (mc *MetricsCollector) RecordError(op string) {
	mc.IncrementCounter(MetricErrorCount, map[string]string{"op": op})
}

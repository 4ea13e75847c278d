// Package otelutil holds lazily created OTel instruments. It depends only on
// the OTel API so instruments bind to whatever MeterProvider the otel package
// installs, or to the no-op provider in tests.
package otelutil

import (
	"sync"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// LazyHistogram returns a function that creates the named Float64Histogram on
// first call from the global MeterProvider and caches it.
func LazyHistogram(meterName, histName string, opts ...metric.Float64HistogramOption) func() metric.Float64Histogram {
	var (
		once sync.Once
		hist metric.Float64Histogram
	)
	return func() metric.Float64Histogram {
		once.Do(func() {
			meter := otelapi.GetMeterProvider().Meter(meterName)
			var err error
			hist, err = meter.Float64Histogram(histName, opts...)
			if err != nil {
				otelapi.Handle(err)
			}
		})
		return hist
	}
}

// LazyCounter is LazyHistogram for Int64Counter.
func LazyCounter(meterName, counterName string, opts ...metric.Int64CounterOption) func() metric.Int64Counter {
	var (
		once    sync.Once
		counter metric.Int64Counter
	)
	return func() metric.Int64Counter {
		once.Do(func() {
			meter := otelapi.GetMeterProvider().Meter(meterName)
			var err error
			counter, err = meter.Int64Counter(counterName, opts...)
			if err != nil {
				otelapi.Handle(err)
			}
		})
		return counter
	}
}

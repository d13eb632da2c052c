package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntegrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "azimuth_integrations_total",
		Help: "The total number of azimuthal integrations executed",
	})

	IntegrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "azimuth_integration_duration_ms",
		Help:    "Wall-clock duration of a full integration pipeline in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1ms to ~1.6s
	})

	// Device-reported timings, split by the same transfer/execution
	// accumulators the integrator keeps.
	TransferSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "azimuth_device_transfer_seconds_total",
		Help: "Cumulative device-reported memory transfer time in seconds",
	})

	KernelSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "azimuth_device_kernel_seconds_total",
		Help: "Cumulative device-reported kernel execution time in seconds",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "azimuth_stage_duration_ms",
		Help:    "Device-reported duration of individual pipeline stages in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"stage"})

	DeviceMemoryAllocatedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "azimuth_device_memory_allocated_bytes",
		Help: "Device memory held by the currently configured buffer set in bytes",
	})

	ConfigurationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "azimuth_configurations_total",
		Help: "Total number of configure attempts by outcome",
	}, []string{"outcome"})
)

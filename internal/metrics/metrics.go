package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// EventsIngested counts receiver outcomes by result (accepted, duplicate, rejected)
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingestion_events_total", Help: "Webhook ingestion outcomes."},
		[]string{"result"},
	)
	// EventsProcessed counts dispatcher outcomes by terminal decision
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingestion_events_processed_total", Help: "Dispatcher outcomes by decision."},
		[]string{"outcome"},
	)
	// ChangesPublished counts canonical changes acknowledged by the bus
	ChangesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingestion_changes_published_total", Help: "Canonical changes published to the bus."},
		[]string{"kind"},
	)
	// ProcessingDuration tracks per-event processing time in seconds
	ProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "ingestion_event_processing_seconds", Help: "Per-event processing duration.", Buckets: prometheus.DefBuckets},
	)
	// QueueDepth is the number of events currently eligible for a claim
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ingestion_queue_depth", Help: "Events eligible for claiming."},
	)
)

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(EventsIngested)
		Registry.MustRegister(EventsProcessed)
		Registry.MustRegister(ChangesPublished)
		Registry.MustRegister(ProcessingDuration)
		Registry.MustRegister(QueueDepth)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

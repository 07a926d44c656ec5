package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/cacao-monitor/internal/model"
	"github.com/rickgao/cacao-monitor/internal/synchronizer"
)

const namespace = "cacao"

// Recorder records synchronizer activity. It implements synchronizer.Observer.
type Recorder struct {
	registry *prometheus.Registry

	readings   *prometheus.CounterVec
	errors     *prometheus.CounterVec
	value      *prometheus.GaugeVec
	lastUpdate *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry, including Go and
// process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readings_total",
				Help:      "Total number of readings delivered",
			},
			[]string{"feed", "channel"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of channel errors",
			},
			[]string{"feed", "channel", "kind"},
		),
		value: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "feed_value",
				Help:      "Latest numeric value of a feed",
			},
			[]string{"feed", "unit"},
		),
		lastUpdate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "feed_last_update_timestamp_seconds",
				Help:      "Unix time of the latest reading of a feed",
			},
			[]string{"feed"},
		),
	}

	r.registry.MustRegister(
		r.readings,
		r.errors,
		r.value,
		r.lastUpdate,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveUpdate records a delivered reading.
func (r *Recorder) ObserveUpdate(m model.Metric, rd model.Reading) {
	r.readings.WithLabelValues(m.SourceKey, string(rd.Channel)).Inc()
	r.lastUpdate.WithLabelValues(m.SourceKey).Set(float64(rd.ReceivedAt.UnixNano()) / 1e9)
	if f, ok := rd.Value.Float(); ok {
		r.value.WithLabelValues(m.SourceKey, m.Unit).Set(f)
	}
}

// ObserveError records a channel error.
func (r *Recorder) ObserveError(m model.Metric, err *synchronizer.Error) {
	r.errors.WithLabelValues(m.SourceKey, string(err.Channel), err.Kind.String()).Inc()
}

var _ synchronizer.Observer = (*Recorder)(nil)

// Package metrics provides the Recorder interface, a noop implementation and
// a prometheus-backed one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives serializer and registry events.
type Recorder interface {
	RecordSerialize(class string)
	RecordDeserialize(class, path string)
	RecordTypeFetch(result string)
	RecordTypeIDRequest(class string)
	RecordMerge(class string, created bool)
	RecordPreserved(class string)
	SetPreservedEntries(n int)
}

// Noop discards all data.
type Noop struct{}

func (Noop) RecordSerialize(string)           {}
func (Noop) RecordDeserialize(string, string) {}
func (Noop) RecordTypeFetch(string)           {}
func (Noop) RecordTypeIDRequest(string)       {}
func (Noop) RecordMerge(string, bool)         {}
func (Noop) RecordPreserved(string)           {}
func (Noop) SetPreservedEntries(int)          {}

// Prometheus records into collectors registered on a caller-supplied
// registerer.
type Prometheus struct {
	Serializations   *prometheus.CounterVec
	Deserializations *prometheus.CounterVec
	TypeFetches      *prometheus.CounterVec
	TypeIDRequests   *prometheus.CounterVec
	Merges           *prometheus.CounterVec
	Preserved        *prometheus.CounterVec
	PreservedEntries prometheus.Gauge
}

// NewPrometheus creates the collectors under namespace and registers them
// with reg when reg is not nil.
func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	if namespace == "" {
		namespace = "pdx"
	}
	p := &Prometheus{
		Serializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serializer",
			Name:      "serializations_total",
		}, []string{"class"}),
		Deserializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serializer",
			Name:      "deserializations_total",
		}, []string{"class", "path"}),
		TypeFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "type_fetches_total",
		}, []string{"result"}),
		TypeIDRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "type_id_requests_total",
		}, []string{"class"}),
		Merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "merges_total",
		}, []string{"class", "created"}),
		Preserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "preserved_captures_total",
		}, []string{"class"}),
		PreservedEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "preserved_entries",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{p.Serializations, p.Deserializations, p.TypeFetches,
			p.TypeIDRequests, p.Merges, p.Preserved, p.PreservedEntries} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (p *Prometheus) RecordSerialize(class string) {
	p.Serializations.WithLabelValues(class).Inc()
}

func (p *Prometheus) RecordDeserialize(class, path string) {
	p.Deserializations.WithLabelValues(class, path).Inc()
}

func (p *Prometheus) RecordTypeFetch(result string) {
	p.TypeFetches.WithLabelValues(result).Inc()
}

func (p *Prometheus) RecordTypeIDRequest(class string) {
	p.TypeIDRequests.WithLabelValues(class).Inc()
}

func (p *Prometheus) RecordMerge(class string, created bool) {
	label := "false"
	if created {
		label = "true"
	}
	p.Merges.WithLabelValues(class, label).Inc()
}

func (p *Prometheus) RecordPreserved(class string) {
	p.Preserved.WithLabelValues(class).Inc()
}

func (p *Prometheus) SetPreservedEntries(n int) {
	p.PreservedEntries.Set(float64(n))
}

package observability

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics implements Metrics on top of a prometheus registry. Counters and
// gauges are created lazily with the label keys of their first observation.
type PromMetrics struct {
	reg       prometheus.Registerer
	namespace string

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

// NewPromMetrics constructs a metrics collector registered against reg.
func NewPromMetrics(reg prometheus.Registerer, namespace string) *PromMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "ordersync"
	}
	return &PromMetrics{
		reg:       reg,
		namespace: namespace,
		counters:  make(map[string]*prometheus.CounterVec),
		gauges:    make(map[string]*prometheus.GaugeVec),
	}
}

// IncCounter adds value to the named counter.
func (m *PromMetrics) IncCounter(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      name,
		}, keys)
		if err := m.reg.Register(vec); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					vec = existing
				}
			}
		}
		m.counters[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Add(value)
}

// SetGauge records the latest value of the named gauge.
func (m *PromMetrics) SetGauge(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      name,
		}, keys)
		if err := m.reg.Register(vec); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
					vec = existing
				}
			}
		}
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

func splitLabels(labels map[string]string) ([]string, []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, labels[k])
	}
	return keys, values
}

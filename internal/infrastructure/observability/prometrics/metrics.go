package prometrics

import (
	"errors"
	"sync"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry creates Prometheus vectors once and hands them out behind the observability ports.
type Registry struct {
	reg        prometheus.Registerer
	counters   sync.Map // name -> *prometheus.CounterVec
	histograms sync.Map // name -> *prometheus.HistogramVec
	namespace  string
}

func New(reg prometheus.Registerer, namespace string) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Registry{reg: reg, namespace: namespace}
}

// Register creates an instrument for every spec and returns them keyed for observability.New.
func (r *Registry) Register(specs []observability.MetricSpec) (
	map[observability.MetricKey]observability.Counter,
	map[observability.MetricKey]observability.Histogram,
	error,
) {
	counters := make(map[observability.MetricKey]observability.Counter)
	histograms := make(map[observability.MetricKey]observability.Histogram)
	for _, s := range specs {
		if s.Histogram {
			h, err := r.Histogram(string(s.Key), s.Help, prometheus.DefBuckets, s.Labels...)
			if err != nil {
				return nil, nil, err
			}
			histograms[s.Key] = h
			continue
		}
		c, err := r.Counter(string(s.Key), s.Help, s.Labels...)
		if err != nil {
			return nil, nil, err
		}
		counters[s.Key] = c
	}
	return counters, histograms, nil
}

func (r *Registry) Counter(name, help string, labelKeys ...string) (observability.Counter, error) {
	if v, ok := r.counters.Load(name); ok {
		return &counter{v: v.(*prometheus.CounterVec)}, nil
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: name, Help: help,
	}, labelKeys)
	if err := r.reg.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		cv = are.ExistingCollector.(*prometheus.CounterVec)
	}
	actual, _ := r.counters.LoadOrStore(name, cv)
	return &counter{v: actual.(*prometheus.CounterVec)}, nil
}

func (r *Registry) Histogram(name, help string, buckets []float64, labelKeys ...string) (observability.Histogram, error) {
	if v, ok := r.histograms.Load(name); ok {
		return &histogram{v: v.(*prometheus.HistogramVec)}, nil
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Name: name, Help: help, Buckets: buckets,
	}, labelKeys)
	if err := r.reg.Register(hv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		hv = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	actual, _ := r.histograms.LoadOrStore(name, hv)
	return &histogram{v: actual.(*prometheus.HistogramVec)}, nil
}

type counter struct{ v *prometheus.CounterVec }

func (c *counter) Add(d float64, labels ...observability.Label) {
	c.v.With(labelMap(labels)).Add(d)
}

func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	return &boundCounter{c: c.v.With(labelMap(labels))}
}

type boundCounter struct{ c prometheus.Counter }

func (b *boundCounter) Add(d float64) { b.c.Add(d) }

type histogram struct{ v *prometheus.HistogramVec }

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	h.v.With(labelMap(labels)).Observe(v)
}

func (h *histogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	return &boundHistogram{o: h.v.With(labelMap(labels))}
}

type boundHistogram struct{ o prometheus.Observer }

func (b *boundHistogram) Observe(v float64) { b.o.Observe(v) }

func labelMap(ls []observability.Label) prometheus.Labels {
	m := make(prometheus.Labels, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}

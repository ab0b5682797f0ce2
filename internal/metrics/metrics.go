// Package metrics exposes prometheus collectors for training steps.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the training collectors registered on one registry.
type Collectors struct {
	steps           *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	routineDuration *prometheus.HistogramVec
	losses          *prometheus.GaugeVec
	anomalies       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cortex",
				Subsystem: "scheduler",
				Name:      "steps_total",
				Help:      "Procedure steps executed.",
			},
			[]string{"model", "mode"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cortex",
				Subsystem: "scheduler",
				Name:      "step_duration_seconds",
				Help:      "Procedure step duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model", "mode"},
		),
		routineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cortex",
				Subsystem: "scheduler",
				Name:      "routine_duration_seconds",
				Help:      "Routine invocation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model", "routine"},
		),
		losses: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cortex",
				Subsystem: "scheduler",
				Name:      "loss",
				Help:      "Most recent loss per resource.",
			},
			[]string{"model", "net"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cortex",
				Subsystem: "scheduler",
				Name:      "numeric_anomalies_total",
				Help:      "Non-finite routine results.",
			},
			[]string{"model", "routine"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cortex",
				Subsystem: "monitor",
				Name:      "requests_total",
				Help:      "Monitor HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
	}
	for _, collector := range []prometheus.Collector{
		c.steps, c.stepDuration, c.routineDuration, c.losses, c.anomalies, c.httpRequests,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

var (
	registerOnce sync.Once
	defaults     *Collectors
)

// Default returns collectors registered once on the default registry.
func Default() *Collectors {
	registerOnce.Do(func() {
		c, err := New(prometheus.DefaultRegisterer)
		if err != nil {
			panic(err)
		}
		defaults = c
	})
	return defaults
}

func (c *Collectors) RecordStep(model, mode string, d time.Duration) {
	c.steps.WithLabelValues(model, mode).Inc()
	c.stepDuration.WithLabelValues(model, mode).Observe(d.Seconds())
}

func (c *Collectors) RecordRoutine(model, routine string, d time.Duration) {
	c.routineDuration.WithLabelValues(model, routine).Observe(d.Seconds())
}

func (c *Collectors) RecordLoss(model, net string, v float64) {
	c.losses.WithLabelValues(model, net).Set(v)
}

func (c *Collectors) RecordAnomaly(model, routine string) {
	c.anomalies.WithLabelValues(model, routine).Inc()
}

func (c *Collectors) RecordHTTPRequest(method, path string, status int) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

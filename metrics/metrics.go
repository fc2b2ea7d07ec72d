// Package metrics counts absave sessions, format errors and bytes with
// Prometheus counters.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Neumenon/absave/absave"
)

// Operation labels.
const (
	OpEncode = "encode"
	OpDecode = "decode"
)

// Collector holds the absave counters.
type Collector struct {
	sessions *prometheus.CounterVec
	errors   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

// NewCollector creates the counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "absave",
			Name:      "sessions_total",
			Help:      "Encode and decode sessions by result.",
		}, []string{"op", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "absave",
			Name:      "errors_total",
			Help:      "Format errors reported to the error handler, suppressed or not.",
		}, []string{"kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "absave",
			Name:      "bytes_total",
			Help:      "Document bytes written or read.",
		}, []string{"op"}),
	}
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		return nil, fmt.Errorf("register absave metrics: %w", err)
	}
	return c, nil
}

// KindLabel turns an error kind into a label value, e.g. "too_many_items".
func KindLabel(k absave.ErrorKind) string {
	return strings.ReplaceAll(k.String(), " ", "_")
}

// Observe counts one error record. It has the absave.ErrorHandler.OnError
// signature.
func (c *Collector) Observe(rec absave.ErrorRecord) {
	c.errors.WithLabelValues(KindLabel(rec.Kind)).Inc()
}

// Handler returns an error handler that counts every error it sees and
// suppresses the given kinds. Records are forwarded to next if it is set.
func (c *Collector) Handler(suppressed absave.ErrorKind, next func(absave.ErrorRecord)) *absave.ErrorHandler {
	return &absave.ErrorHandler{
		Suppressed: suppressed,
		OnError: func(rec absave.ErrorRecord) {
			c.Observe(rec)
			if next != nil {
				next(rec)
			}
		},
	}
}

// Session counts one finished session and its document size.
func (c *Collector) Session(op string, n int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.sessions.WithLabelValues(op, result).Inc()
	if n > 0 {
		c.bytes.WithLabelValues(op).Add(float64(n))
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.sessions.Describe(ch)
	c.errors.Describe(ch)
	c.bytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.sessions.Collect(ch)
	c.errors.Collect(ch)
	c.bytes.Collect(ch)
}

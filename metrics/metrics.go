// Package metrics exports terminal and event queue counters to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abrant-ru/vendista/slave"
)

const namespace = "vendista"

var terminalLabels = []string{"terminal"}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(m *slave.TerminalMetrics) uint64
}

func newCounterDesc(name, help string, value func(m *slave.TerminalMetrics) uint64) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", name), help, terminalLabels, nil),
		value: value,
	}
}

var (
	terminalCounters = []counterDesc{
		newCounterDesc("frames_sent_total", "Frames written to the terminal, retries included.",
			func(m *slave.TerminalMetrics) uint64 { return m.FrameSendCount.Load() }),
		newCounterDesc("frames_received_total", "Frames received with a valid checksum.",
			func(m *slave.TerminalMetrics) uint64 { return m.FrameRecvCount.Load() }),
		newCounterDesc("retries_total", "Requests re-sent after a failed attempt.",
			func(m *slave.TerminalMetrics) uint64 { return m.RetryCount.Load() }),
		newCounterDesc("checksum_errors_total", "Checksum failures and receive buffer overflows.",
			func(m *slave.TerminalMetrics) uint64 { return m.ChecksumErrCount.Load() }),
		newCounterDesc("timeouts_total", "Response windows closed without a matching reply.",
			func(m *slave.TerminalMetrics) uint64 { return m.TimeoutCount.Load() }),
		newCounterDesc("sequence_errors_total", "Replies carrying a foreign sequence id.",
			func(m *slave.TerminalMetrics) uint64 { return m.SequenceErrCount.Load() }),
		newCounterDesc("desync_bytes_total", "Bytes discarded while searching for a start marker.",
			func(m *slave.TerminalMetrics) uint64 { return m.DesyncByteCount.Load() }),
		newCounterDesc("stale_frames_total", "Frames received with no request outstanding.",
			func(m *slave.TerminalMetrics) uint64 { return m.StaleFrameCount.Load() }),
		newCounterDesc("faults_total", "Times the retry budget was exhausted.",
			func(m *slave.TerminalMetrics) uint64 { return m.FaultCount.Load() }),
		newCounterDesc("transport_errors_total", "Fatal transport failures.",
			func(m *slave.TerminalMetrics) uint64 { return m.TransportErrCount.Load() }),
		newCounterDesc("events_total", "Events handed to the event queue.",
			func(m *slave.TerminalMetrics) uint64 { return m.EventCount.Load() }),
		newCounterDesc("commands_total", "Caller commands resolved.",
			func(m *slave.TerminalMetrics) uint64 { return m.CommandCount.Load() }),
	}

	linkStateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "state"),
		"Session state: 0 idle, 1 awaiting response, 2 faulted.",
		terminalLabels, nil,
	)
	connectStateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "terminal", "connect_state"),
		"Last connect state reported by the terminal.",
		terminalLabels, nil,
	)
	runningDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "terminal", "running"),
		"1 while the terminal driver is running.",
		terminalLabels, nil,
	)
)

// TerminalCollector collects the link metrics of a set of terminals.
type TerminalCollector struct {
	mu    sync.RWMutex
	terms map[string]*slave.Terminal
}

var _ prometheus.Collector = (*TerminalCollector)(nil)

// NewTerminalCollector creates a collector for terms.
func NewTerminalCollector(terms ...*slave.Terminal) *TerminalCollector {
	c := &TerminalCollector{terms: make(map[string]*slave.Terminal, len(terms))}
	for _, t := range terms {
		c.Add(t)
	}

	return c
}

// Add starts collecting t. A terminal with the same id is replaced.
func (c *TerminalCollector) Add(t *slave.Terminal) {
	c.mu.Lock()
	c.terms[t.ID()] = t
	c.mu.Unlock()
}

// Remove stops collecting the terminal with the given id.
func (c *TerminalCollector) Remove(id string) {
	c.mu.Lock()
	delete(c.terms, id)
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *TerminalCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range terminalCounters {
		ch <- cd.desc
	}
	ch <- linkStateDesc
	ch <- connectStateDesc
	ch <- runningDesc
}

// Collect implements prometheus.Collector.
func (c *TerminalCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, t := range c.terms {
		m := t.Metrics()
		for _, cd := range terminalCounters {
			ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(m)), id)
		}

		ch <- prometheus.MustNewConstMetric(linkStateDesc, prometheus.GaugeValue, float64(t.State()), id)
		ch <- prometheus.MustNewConstMetric(connectStateDesc, prometheus.GaugeValue, float64(t.ConnectState()), id)

		running := 0.0
		if t.IsRunning() {
			running = 1
		}
		ch <- prometheus.MustNewConstMetric(runningDesc, prometheus.GaugeValue, running, id)
	}
}

// RegisterTerminal registers the link metrics of t with reg.
func RegisterTerminal(reg prometheus.Registerer, t *slave.Terminal) error {
	return reg.Register(NewTerminalCollector(t))
}

// RegisterQueue registers the depth and throughput of q with reg.
func RegisterQueue(reg prometheus.Registerer, q *slave.EventQueue) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "event_queue",
			Name:      "length",
			Help:      "Events waiting in the queue.",
		}, func() float64 { return float64(q.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "event_queue",
			Name:      "capacity",
			Help:      "Queue capacity; 0 means unbounded.",
		}, func() float64 { return float64(q.Capacity()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_queue",
			Name:      "published_total",
			Help:      "Events accepted by the queue.",
		}, func() float64 { return float64(q.Published()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_queue",
			Name:      "dropped_total",
			Help:      "Events discarded by the overflow policy.",
		}, func() float64 { return float64(q.Dropped()) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// Register registers a collector for terms and the queue metrics of q with
// reg. It returns the terminal collector so that terminals can be added later.
func Register(reg prometheus.Registerer, q *slave.EventQueue, terms ...*slave.Terminal) (*TerminalCollector, error) {
	tc := NewTerminalCollector(terms...)
	if err := reg.Register(tc); err != nil {
		return nil, err
	}
	if q != nil {
		if err := RegisterQueue(reg, q); err != nil {
			return nil, err
		}
	}

	return tc, nil
}

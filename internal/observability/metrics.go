package observability

import (
	"context"

	"ctfwatch/internal/eventbus"
	"ctfwatch/internal/notifier"
	"ctfwatch/internal/watch"
	logx "ctfwatch/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ctfwatch"

// Gauges are sampled on scrape.
type Gauges struct {
	PendingAlarms func() int
	Subscribers   func() (all, team int)
}

// Metrics turns bus events into Prometheus series.
type Metrics struct {
	reg *prometheus.Registry
	log logx.Logger

	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	fetched       prometheus.Gauge
	armed         *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	retired       prometheus.Counter
	evicted       prometheus.Counter
	persistFailed *prometheus.CounterVec
	sends         *prometheus.CounterVec
}

func NewMetrics(bus eventbus.Bus, g Gauges, log logx.Logger) *Metrics {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: log.With(logx.String("comp", "metrics")),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Scan ticks by result.",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Wall time of a scan tick.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		fetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "events_fetched",
			Help: "Events returned by the last successful fetch.",
		}),
		armed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alarms_armed_total",
			Help: "Warnings scheduled, by kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Per-recipient notice deliveries, by kind and result.",
		}, []string{"kind", "result"}),
		retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_retired_total",
			Help: "Events whose results were posted.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_evicted_total",
			Help: "Stale ledger entries removed.",
		}),
		persistFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_failures_total",
			Help: "Failed snapshot writes, by section.",
		}, []string{"section"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifier_sends_total",
			Help: "Outbound chat messages, by result.",
		}, []string{"result"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.tickDuration, m.fetched, m.armed, m.deliveries,
		m.retired, m.evicted, m.persistFailed, m.sends,
	)
	if bus != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "bus_dropped_total",
			Help: "Bus deliveries dropped because a subscriber was slow.",
		}, func() float64 { return float64(bus.Dropped()) }))
	}
	if g.PendingAlarms != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "alarms_pending",
			Help: "Warnings armed but not yet fired.",
		}, func() float64 { return float64(g.PendingAlarms()) }))
	}
	if g.Subscribers != nil {
		m.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Name: "subscribers_all",
				Help: "Recipients subscribed to all events.",
			}, func() float64 { a, _ := g.Subscribers(); return float64(a) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Name: "subscribers_team",
				Help: "Recipients with at least one team subscription.",
			}, func() float64 { _, t := g.Subscribers(); return float64(t) }),
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe applies one bus event. Unknown topics are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case watch.TopicTick:
		info, ok := e.Data.(watch.TickInfo)
		if !ok {
			return
		}
		if !info.OK {
			m.ticks.WithLabelValues("fetch_error").Inc()
			return
		}
		m.ticks.WithLabelValues("ok").Inc()
		m.tickDuration.Observe(info.Took.Seconds())
		m.fetched.Set(float64(info.Fetched))
	case watch.TopicArmed:
		if kind, ok := e.Data.(watch.Notice); ok {
			m.armed.WithLabelValues(string(kind)).Inc()
		}
	case watch.TopicDelivered, watch.TopicDeliveryFailed:
		info, ok := e.Data.(watch.DeliveryInfo)
		if !ok {
			return
		}
		result := "ok"
		if e.Type == watch.TopicDeliveryFailed {
			result = "failed"
		}
		m.deliveries.WithLabelValues(string(info.Kind), result).Inc()
	case watch.TopicRetired:
		m.retired.Inc()
	case watch.TopicEvicted:
		if n, ok := e.Data.(int); ok {
			m.evicted.Add(float64(n))
		}
	case watch.TopicPersistFailed:
		section, _ := e.Data.(string)
		m.persistFailed.WithLabelValues(section).Inc()
	case notifier.TopicSent:
		m.sends.WithLabelValues("sent").Inc()
	case notifier.TopicFailed:
		m.sends.WithLabelValues("failed").Inc()
	case notifier.TopicRetry:
		m.sends.WithLabelValues("retry").Inc()
	}
}

// Consume feeds bus events into the metrics until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	m.log.Debug("metrics consumer started")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

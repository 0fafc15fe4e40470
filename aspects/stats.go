package aspects

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/transport"
)

// StatsConfig configures the statistics aspect.
type StatsConfig struct {
	// Namespace prefixes every metric name. Default: "mts".
	Namespace string
	// Registerer registers the collectors when set.
	// Leave nil and use Stats.Collectors to register elsewhere.
	Registerer prometheus.Registerer
}

// Stats counts messages at every pipeline stage.
type Stats struct {
	accepted      *prometheus.CounterVec
	forwarded     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	forwardTime   *prometheus.HistogramVec
	bytesOut      *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	bytesIn       prometheus.Counter
	clientResults *prometheus.CounterVec
	queued        *queueCollector

	aspect *aspect.Aspect
}

// NewStats creates the statistics aspect and registers its collectors with
// cfg.Registerer, if set.
func NewStats(cfg StatsConfig) (*Stats, error) {
	ns := cfg.Namespace
	if ns == "" {
		ns = "mts"
	}

	s := &Stats{
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "send",
			Name:      "accepted_total",
			Help:      "Messages accepted by the send queue",
		}, []string{"result"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "link",
			Name:      "forwarded_total",
			Help:      "Messages forwarded by destination links",
		}, []string{"protocol"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "link",
			Name:      "failures_total",
			Help:      "Forwarding failures by pipeline decision",
		}, []string{"protocol", "decision"}),
		forwardTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "link",
			Name:      "forward_duration_seconds",
			Help:      "Duration of forwarding calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol"}),
		bytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "link",
			Name:      "bytes_out_total",
			Help:      "Encoded bytes sent by network protocols",
		}, []string{"protocol"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "deliver",
			Name:      "messages_total",
			Help:      "Inbound messages handled by the message deliverer",
		}, []string{"result"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "deliver",
			Name:      "bytes_in_total",
			Help:      "Encoded bytes received by network protocols",
		}),
		clientResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "deliver",
			Name:      "client_results_total",
			Help:      "Client deliveries by delivery status",
		}, []string{"status"}),
		queued: &queueCollector{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(ns, "queue", "destination_length"),
				"Messages waiting in destination queues",
				[]string{"destination"}, nil),
		},
	}

	if cfg.Registerer != nil {
		for _, c := range s.Collectors() {
			if err := cfg.Registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}

	a := aspect.New(NameStats)
	aspect.Provide(a, transport.SendQueueKey, func(q transport.SendQueue) (transport.SendQueue, bool) {
		return &statsSendQueue{SendQueue: q, s: s}, true
	})
	aspect.Provide(a, transport.DestinationQueueKey, func(q transport.DestinationQueue) (transport.DestinationQueue, bool) {
		s.queued.track(q)
		return q, true
	})
	aspect.Provide(a, transport.DestinationLinkKey, func(l link.DestinationLink) (link.DestinationLink, bool) {
		return &statsLink{DestinationLink: l, s: s}, true
	})
	aspect.Provide(a, transport.MessageDelivererKey, func(d link.Deliverer) (link.Deliverer, bool) {
		return &statsDeliverer{next: d, s: s}, true
	})
	aspect.Provide(a, transport.ReceiveLinkKey, func(rl transport.ReceiveLink) (transport.ReceiveLink, bool) {
		return &statsReceiveLink{ReceiveLink: rl, s: s}, true
	})
	s.aspect = a
	return s, nil
}

// Aspect returns the aspect to add to a chain.
func (s *Stats) Aspect() *aspect.Aspect { return s.aspect }

// Collectors returns the Prometheus collectors of s.
func (s *Stats) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.accepted, s.forwarded, s.failed, s.forwardTime, s.bytesOut,
		s.delivered, s.bytesIn, s.clientResults, s.queued,
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, transport.ErrQueueFull):
		return "full"
	case errors.Is(err, link.ErrMisdelivered):
		return "misdelivered"
	case errors.Is(err, link.ErrMessageSecurity):
		return "security"
	default:
		return "error"
	}
}

type statsSendQueue struct {
	transport.SendQueue
	s *Stats
}

func (q *statsSendQueue) SendMessage(msg *message.Message) error {
	err := q.SendQueue.SendMessage(msg)
	q.s.accepted.WithLabelValues(resultLabel(err)).Inc()
	return err
}

// queueCollector reports the length of every woven destination queue at
// scrape time, so pops and drops need no bookkeeping.
type queueCollector struct {
	desc *prometheus.Desc

	mu     sync.Mutex
	queues []transport.DestinationQueue
}

func (c *queueCollector) track(q transport.DestinationQueue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, q)
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	queues := append([]transport.DestinationQueue(nil), c.queues...)
	c.mu.Unlock()

	// Services sharing one Stats may each have a queue for a destination.
	lengths := make(map[string]int)
	var order []string
	for _, q := range queues {
		dest := q.Destination().String()
		if _, ok := lengths[dest]; !ok {
			order = append(order, dest)
		}
		lengths[dest] += q.Len()
	}
	for _, dest := range order {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(lengths[dest]), dest)
	}
}

type statsLink struct {
	link.DestinationLink
	s *Stats
}

// ForwardMessage counts the bytes written by this attempt only. Encoders add
// to AttrBytesOut on every attempt, so the total spans retries.
func (l *statsLink) ForwardMessage(ctx context.Context, msg *message.Message) error {
	before, _ := msg.Attributes().Int(message.AttrBytesOut)
	start := time.Now()
	err := l.DestinationLink.ForwardMessage(ctx, msg)
	protocol := l.Protocol()
	l.s.forwardTime.WithLabelValues(protocol).Observe(time.Since(start).Seconds())
	if after, _ := msg.Attributes().Int(message.AttrBytesOut); after > before {
		l.s.bytesOut.WithLabelValues(protocol).Add(float64(after - before))
	}
	if err != nil {
		l.s.failed.WithLabelValues(protocol, link.Classify(err).String()).Inc()
		return err
	}
	l.s.forwarded.WithLabelValues(protocol).Inc()
	return nil
}

type statsDeliverer struct {
	next link.Deliverer
	s    *Stats
}

func (d *statsDeliverer) DeliverMessage(ctx context.Context, msg *message.Message) error {
	err := d.next.DeliverMessage(ctx, msg)
	d.s.delivered.WithLabelValues(resultLabel(err)).Inc()
	if n, ok := msg.Attributes().Int(message.AttrBytesIn); ok {
		d.s.bytesIn.Add(float64(n))
	}
	return err
}

type statsReceiveLink struct {
	transport.ReceiveLink
	s *Stats
}

func (l *statsReceiveLink) DeliverMessage(ctx context.Context, msg *message.Message) error {
	err := l.ReceiveLink.DeliverMessage(ctx, msg)
	l.s.clientResults.WithLabelValues(string(message.Status(msg))).Inc()
	return err
}

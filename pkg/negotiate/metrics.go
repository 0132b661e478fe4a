package negotiate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the Negotiate middleware.
// All methods are nil-safe: a nil *Metrics disables collection.
type Metrics struct {
	// Steps counts handshake steps by mechanism and outcome.
	// Labels: mechanism=[kerberos, ntlm, unknown], outcome=[continue, finished, failure, create_failure]
	Steps *prometheus.CounterVec

	// StepDuration tracks the time spent inside Context.Step.
	StepDuration *prometheus.HistogramVec

	// FastPath counts requests forwarded on already authenticated connections.
	FastPath prometheus.Counter

	// Challenges counts 401/400 answers sent without stepping a context.
	// Labels: reason=[missing, malformed]
	Challenges *prometheus.CounterVec

	// Authenticated counts connections that completed a handshake.
	Authenticated *prometheus.CounterVec

	// ActiveConnections tracks connections reported by TrackConn.
	ActiveConnections prometheus.Gauge
}

// NewMetrics creates the middleware collectors and registers them with reg.
// If reg is nil the collectors are created but not registered (useful for
// testing). Collectors already present in reg are reused, so calling
// NewMetrics again after a restart keeps exporting the same series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "negotiate",
			Name:      "handshake_steps_total",
			Help:      "Total handshake steps by mechanism and outcome",
		}, []string{"mechanism", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "negotiate",
			Name:      "step_duration_seconds",
			Help:      "Duration of a single handshake step in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"mechanism"}),
		FastPath: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "negotiate",
			Name:      "fast_path_total",
			Help:      "Total requests forwarded on already authenticated connections",
		}),
		Challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "negotiate",
			Name:      "challenges_total",
			Help:      "Total requests rejected before a handshake step, by reason",
		}, []string{"reason"}),
		Authenticated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "negotiate",
			Name:      "authenticated_total",
			Help:      "Total connections that completed a handshake, by mechanism",
		}, []string{"mechanism"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "negotiate",
			Name:      "connections_active",
			Help:      "Current number of open connections",
		}),
	}

	if reg != nil {
		m.Steps = registerOrReuse(reg, m.Steps).(*prometheus.CounterVec)
		m.StepDuration = registerOrReuse(reg, m.StepDuration).(*prometheus.HistogramVec)
		m.FastPath = registerOrReuse(reg, m.FastPath).(prometheus.Counter)
		m.Challenges = registerOrReuse(reg, m.Challenges).(*prometheus.CounterVec)
		m.Authenticated = registerOrReuse(reg, m.Authenticated).(*prometheus.CounterVec)
		m.ActiveConnections = registerOrReuse(reg, m.ActiveConnections).(prometheus.Gauge)
	}

	return m
}

// registerOrReuse registers c, returning the already registered collector
// when an identical one exists.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *Metrics) recordStep(mech Mechanism, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(mech.String(), outcome).Inc()
	if d > 0 {
		m.StepDuration.WithLabelValues(mech.String()).Observe(d.Seconds())
	}
}

func (m *Metrics) recordFastPath() {
	if m == nil {
		return
	}
	m.FastPath.Inc()
}

func (m *Metrics) recordChallenge(reason string) {
	if m == nil {
		return
	}
	m.Challenges.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordAuthenticated(mech Mechanism) {
	if m == nil {
		return
	}
	m.Authenticated.WithLabelValues(mech.String()).Inc()
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

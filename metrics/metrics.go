package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var instance *metrics

func init() {
	instance = newMetrics()
}

// M returns the process wide metrics
func M() *metrics {
	return instance
}

type metrics struct {
	Connections  *prometheus.CounterVec
	Commands     *prometheus.CounterVec
	IdleTimeouts *prometheus.CounterVec
	HookVerdicts *prometheus.CounterVec
	StoreErrors  *prometheus.CounterVec
	TarpitDelays prometheus.Counter
	Registry     *prometheus.Registry
}

func newMetrics() *metrics {
	m := new(metrics)

	m.Connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookmta_connections_total",
			Help: "Number of client connections",
		},
		[]string{"protocol"},
	)

	m.Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookmta_commands_total",
			Help: "Number of dispatched commands",
		},
		[]string{"protocol", "command"},
	)

	m.IdleTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookmta_idle_timeouts_total",
			Help: "Number of sessions closed by the watchdog",
		},
		[]string{"protocol"},
	)

	m.HookVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookmta_hook_verdicts_total",
			Help: "Verdicts returned by policy hooks",
		},
		[]string{"step", "hook", "verdict"},
	)

	m.StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookmta_store_errors_total",
			Help: "Failed greylist store operations",
		},
		[]string{"operation"},
	)

	m.TarpitDelays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookmta_tarpit_delays_total",
			Help: "Number of recipients delayed by the tarpit",
		},
	)

	m.Registry = prometheus.NewRegistry()
	m.Registry.MustRegister(
		m.Connections,
		m.Commands,
		m.IdleTimeouts,
		m.HookVerdicts,
		m.StoreErrors,
		m.TarpitDelays,
	)
	return m
}

// Handler serves the registry in the prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(
		instance.Registry,
		promhttp.HandlerOpts{
			ErrorHandling:       promhttp.HTTPErrorOnError,
			MaxRequestsInFlight: -1,
			Timeout:             -1,
		},
	)
}

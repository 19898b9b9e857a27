// Package metrics keeps Prometheus gauges and counters for the monitor and
// supervisor and flushes them to a node_exporter textfile.
package metrics

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const namespace = "killswitch"

type Metrics struct {
	reg  *prometheus.Registry
	path string

	PnL               prometheus.Gauge
	Balance           prometheus.Gauge
	Threshold         prometheus.Gauge
	Cycle             prometheus.Gauge
	ConsecutiveErrors prometheus.Gauge
	LastPoll          prometheus.Gauge
	InWindow          prometheus.Gauge

	Polls   *prometheus.CounterVec
	Kills   *prometheus.CounterVec
	Reauths *prometheus.CounterVec

	MonitorUp       prometheus.Gauge
	MonitorRestarts prometheus.Counter
	AuthStatus      *prometheus.GaugeVec
}

// New builds a private registry. An empty path disables Flush.
func New(path string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg:  reg,
		path: path,

		PnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "pnl_dollars",
			Help: "Last observed unrealized P/L",
		}),
		Balance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "balance_dollars",
			Help: "Last observed account balance",
		}),
		Threshold: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "threshold",
			Help: "Configured loss threshold (dollars or ratio)",
		}),
		Cycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "cycle",
			Help: "Monitor cycle counter",
		}),
		ConsecutiveErrors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "consecutive_errors",
			Help: "Consecutive failed account polls",
		}),
		LastPoll: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "last_poll_timestamp_seconds",
			Help: "Unix time of the last successful poll",
		}),
		InWindow: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "in_operating_window",
			Help: "1 while inside the operating window",
		}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "polls_total",
			Help: "Account polls by result",
		}, []string{"result"}),
		Kills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "kills_total",
			Help: "Kill action invocations by outcome",
		}, []string{"outcome"}),
		Reauths: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "reauth_total",
			Help: "Re-authentication attempts by result",
		}, []string{"result"}),
		MonitorUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "monitor_up",
			Help: "1 while the supervised monitor is alive",
		}),
		MonitorRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "monitor_restarts_total",
			Help: "Monitor restarts performed by the supervisor",
		}),
		AuthStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "auth_status",
			Help: "1 for the currently detected auth status",
		}, []string{"status"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func SetDecimal(g prometheus.Gauge, d decimal.Decimal) {
	f, _ := d.Float64()
	g.Set(f)
}

// SetAuthStatus marks exactly one status label as current.
func (m *Metrics) SetAuthStatus(current string) {
	for _, s := range []string{"valid", "expired", "unknown"} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.AuthStatus.WithLabelValues(s).Set(v)
	}
}

// Flush writes the registry to the textfile atomically.
func (m *Metrics) Flush() error {
	if m == nil || m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(m.path, m.reg)
}

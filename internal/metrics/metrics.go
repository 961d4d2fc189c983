// Package metrics exports pipeline activity as Prometheus series:
//
//	bstate_actions_total{action}              decisions by action
//	bstate_authority_total{authority,code}    authority verdicts
//	bstate_fallbacks_total                    bars that used a substitute state
//	bstate_session_blocks_total{rule}         bars an open position was blocked, by rule
//	bstate_exits_total{reason}                exits by reason
//	bstate_position_open                      1 while a position is held
//	bstate_bars_total{warmup}                 bars admitted, by warm-up phase
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/boundary-state/internal/authority"
	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
)

// Metrics implements pipeline.Recorder and authority.Recorder.
type Metrics struct {
	reg *prometheus.Registry

	actions       *prometheus.CounterVec
	authority     *prometheus.CounterVec
	fallbacks     prometheus.Counter
	sessionBlocks *prometheus.CounterVec
	exits         *prometheus.CounterVec
	positionOpen  prometheus.Gauge
	bars          *prometheus.CounterVec
}

// New registers every series on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bstate_actions_total", Help: "Decisions by action"},
			[]string{"action"},
		),
		authority: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bstate_authority_total", Help: "Authority verdicts by outcome and code"},
			[]string{"authority", "code"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "bstate_fallbacks_total", Help: "Bars that used a substitute state"},
		),
		sessionBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bstate_session_blocks_total", Help: "Bars an open position was blocked from exiting, by rule"},
			[]string{"rule"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bstate_exits_total", Help: "Exits by reason"},
			[]string{"reason"},
		),
		positionOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "bstate_position_open", Help: "1 while a position is held"},
		),
		bars: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bstate_bars_total", Help: "Bars admitted, by warm-up phase"},
			[]string{"warmup"},
		),
	}
	m.reg.MustRegister(m.actions, m.authority, m.fallbacks, m.sessionBlocks, m.exits, m.positionOpen, m.bars)

	// pre-create the action series so dashboards see zeros
	for _, a := range gate.Actions {
		m.actions.WithLabelValues(a.String())
	}
	return m
}

// Registry returns the registry the series live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RecordOutput counts one processed bar.
func (m *Metrics) RecordOutput(o pipeline.Output) {
	m.actions.WithLabelValues(o.Action.Action.String()).Inc()
	m.bars.WithLabelValues(o.WarmUp.String()).Inc()
	if o.Fallback {
		m.fallbacks.Inc()
	}
	if o.Session != nil {
		for _, r := range o.Session.BlockingRules {
			m.sessionBlocks.WithLabelValues(r.String()).Inc()
		}
	}
	switch o.Action.Action {
	case gate.Enter:
		if o.Authority == nil || o.Authority.Allowed() {
			m.positionOpen.Set(1)
		}
	case gate.Exit:
		m.exits.WithLabelValues(o.Action.ExitReason.String()).Inc()
		m.positionOpen.Set(0)
	}
}

// RecordAuthority counts one authority verdict.
func (m *Metrics) RecordAuthority(r authority.Response) {
	m.authority.WithLabelValues(r.Authority.String(), r.Code.String()).Inc()
}

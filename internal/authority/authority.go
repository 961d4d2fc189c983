// Package authority decides whether a validated entry may actually be
// executed, and under which size, exit and retry policy. Every violation is
// an explicit Deny with a Code; nothing here returns an error.
package authority

import (
	"fmt"
	"sync"
)

// Recorder observes every verdict, e.g. to export metrics.
type Recorder interface {
	RecordAuthority(Response)
}

// Option configures a Gate.
type Option func(*Gate)

// WithRecorder attaches r.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// #region gate
// Gate holds the policy table and the running counters. Decide is safe for
// concurrent use with Stats.
type Gate struct {
	cfg      Config
	recorder Recorder

	mu    sync.Mutex
	stats Stats
}

// New creates an authority gate. An empty policy table falls back to the
// default one.
func New(cfg Config, opts ...Option) *Gate {
	if len(cfg.Policies) == 0 {
		cfg.Policies = DefaultConfig().Policies
	}
	g := &Gate{cfg: cfg, stats: newStats()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide evaluates req: no certification, then state collapse, then the
// resolved policy's retry rule.
func (g *Gate) Decide(req Request) Response {
	resp := g.decide(req)

	g.mu.Lock()
	if req.IsRetry {
		g.stats.Retries++
	}
	if resp.Allowed() {
		g.stats.Allowed++
		g.stats.AllowByTheta[resp.Theta]++
	} else {
		g.stats.Denied++
		g.stats.DenyByCode[resp.Code]++
	}
	g.mu.Unlock()

	if g.recorder != nil {
		g.recorder.RecordAuthority(resp)
	}
	return resp
}

func (g *Gate) decide(req Request) Response {
	resp := Response{SignalID: req.SignalID, Authority: Deny, Theta: req.Theta}

	if req.Theta <= 0 {
		resp.Code = NoCertification
		resp.Reason = "no state certified"
		return resp
	}
	if req.ConsecutiveLossInZone >= g.cfg.MaxLossInZone {
		resp.Code = StateCollapse
		resp.Reason = fmt.Sprintf("state collapse: %d consecutive losses in zone", req.ConsecutiveLossInZone)
		return resp
	}

	policy := g.PolicyFor(req.Theta)
	if req.IsRetry && !policy.AllowRetry {
		resp.Code = RetryNotAllowed
		resp.Reason = fmt.Sprintf("retry not allowed at θ=%d", req.Theta)
		return resp
	}

	resp.Authority = Allow
	resp.Code = Authorized
	resp.Policy = &policy
	resp.Reason = fmt.Sprintf("authorized at θ=%d", req.Theta)
	return resp
}

// PolicyFor resolves the table entry for theta, clamped to the table. theta
// below 1 resolves to the θ=1 entry.
func (g *Gate) PolicyFor(theta int) Policy {
	i := theta - 1
	if i < 0 {
		i = 0
	}
	if i >= len(g.cfg.Policies) {
		i = len(g.cfg.Policies) - 1
	}
	return g.cfg.Policies[i]
}

// Stats returns a copy of the counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.stats
	out.AllowByTheta = make(map[int]int, len(g.stats.AllowByTheta))
	for k, v := range g.stats.AllowByTheta {
		out.AllowByTheta[k] = v
	}
	out.DenyByCode = make(map[Code]int, len(g.stats.DenyByCode))
	for k, v := range g.stats.DenyByCode {
		out.DenyByCode[k] = v
	}
	return out
}

// ResetStats zeroes the counters.
func (g *Gate) ResetStats() {
	g.mu.Lock()
	g.stats = newStats()
	g.mu.Unlock()
}

func newStats() Stats {
	return Stats{AllowByTheta: map[int]int{}, DenyByCode: map[Code]int{}}
}

// #endregion gate

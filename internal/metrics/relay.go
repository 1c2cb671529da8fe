package metrics

import (
	"fmt"
	"time"
)

// Relay holds the metrics the dispatcher and HTTP channel report. A nil
// *Relay is valid and records nothing.
type Relay struct {
	c *Collector

	Turns           *Counter
	CannedFailures  *Counter
	SoftFallbacks   *Counter
	LinksIssued     *Counter
	LinksOmitted    *Counter
	SessionErrors   *Counter
	StoredSessions  *Gauge
	DispatchLatency *Histogram
}

func NewRelay(c *Collector) *Relay {
	return &Relay{
		c:               c,
		Turns:           c.Counter("relaybot_turns_total", "Turns dispatched", ""),
		CannedFailures:  c.Counter("relaybot_failure_replies_total", "Turns answered with the failure reply", ""),
		SoftFallbacks:   c.Counter("relaybot_soft_fallback_replies_total", "Turns whose backend reply had no usable text", ""),
		LinksIssued:     c.Counter("relaybot_links_total", "Deep links issued", `result="issued"`),
		LinksOmitted:    c.Counter("relaybot_links_total", "Deep links issued", `result="omitted"`),
		SessionErrors:   c.Counter("relaybot_session_errors_total", "Session store write failures", ""),
		StoredSessions:  c.Gauge("relaybot_stored_sessions", "Sessions currently held by the store", ""),
		DispatchLatency: c.Histogram("relaybot_dispatch_latency_seconds", "End-to-end dispatch latency in seconds", "",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}),
	}
}

func backendLabel(name string) string {
	return fmt.Sprintf("backend=%q", name)
}

// BackendAttempt counts one call to the named backend.
func (r *Relay) BackendAttempt(name string) {
	if r == nil {
		return
	}
	r.c.Counter("relaybot_backend_attempts_total", "Backend calls", backendLabel(name)).Inc()
}

// BackendFailure counts one failed call to the named backend.
func (r *Relay) BackendFailure(name string) {
	if r == nil {
		return
	}
	r.c.Counter("relaybot_backend_failures_total", "Backend calls that failed", backendLabel(name)).Inc()
}

// ObserveTurn records a finished turn.
func (r *Relay) ObserveTurn(elapsed time.Duration, failed, soft bool) {
	if r == nil {
		return
	}
	r.Turns.Inc()
	r.DispatchLatency.Observe(elapsed.Seconds())
	if failed {
		r.CannedFailures.Inc()
	}
	if soft {
		r.SoftFallbacks.Inc()
	}
}

// ObserveLink records whether a link made it into the prompt.
func (r *Relay) ObserveLink(issued bool) {
	if r == nil {
		return
	}
	if issued {
		r.LinksIssued.Inc()
	} else {
		r.LinksOmitted.Inc()
	}
}

func (r *Relay) SessionError() {
	if r == nil {
		return
	}
	r.SessionErrors.Inc()
}

func (r *Relay) SetStoredSessions(n int) {
	if r == nil {
		return
	}
	r.StoredSessions.Set(int64(n))
}

// Collector returns the underlying collector, for the HTTP handler.
func (r *Relay) Collector() *Collector { return r.c }

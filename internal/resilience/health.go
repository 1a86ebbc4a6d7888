package resilience

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow bounds the ring of recent response-time samples.
const latencyWindow = 100

// health tracks per-breaker call outcomes. It carries no lock of its own:
// the owning breaker's mutex guards every mutation.
type health struct {
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	tripCount       uint64
	lastSuccess     time.Time
	lastFailure     time.Time

	// ring of recent latencies in seconds
	latencies [latencyWindow]float64
	next      int
	filled    int
}

// HealthSnapshot is the observability view of a breaker's health.
type HealthSnapshot struct {
	TotalRequests       uint64     `json:"total_requests"`
	SuccessfulRequests  uint64     `json:"successful_requests"`
	FailedRequests      uint64     `json:"failed_requests"`
	SuccessRate         float64    `json:"success_rate"`
	Availability        string     `json:"availability"`
	CircuitTripCount    uint64     `json:"circuit_trip_count"`
	AverageResponseTime float64    `json:"average_response_time"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

func (h *health) recordSuccess(d time.Duration, now time.Time) {
	h.totalRequests++
	h.successRequests++
	h.lastSuccess = now
	h.sample(d)
}

func (h *health) recordFailure(d time.Duration, now time.Time) {
	h.totalRequests++
	h.failedRequests++
	h.lastFailure = now
	h.sample(d)
}

func (h *health) recordTrip() {
	h.tripCount++
}

func (h *health) sample(d time.Duration) {
	h.latencies[h.next] = d.Seconds()
	h.next = (h.next + 1) % latencyWindow
	if h.filled < latencyWindow {
		h.filled++
	}
}

func (h *health) successRate() float64 {
	if h.totalRequests == 0 {
		return 1.0
	}
	return float64(h.successRequests) / float64(h.totalRequests)
}

// availability maps the success rate onto coarse operational tiers.
func (h *health) availability() string {
	rate := h.successRate()
	switch {
	case rate >= 0.99:
		return "excellent"
	case rate >= 0.95:
		return "good"
	case rate >= 0.90:
		return "fair"
	default:
		return "poor"
	}
}

func (h *health) averageResponseTime() float64 {
	if h.filled == 0 {
		return 0
	}
	return stat.Mean(h.latencies[:h.filled], nil)
}

func (h *health) snapshot() HealthSnapshot {
	s := HealthSnapshot{
		TotalRequests:       h.totalRequests,
		SuccessfulRequests:  h.successRequests,
		FailedRequests:      h.failedRequests,
		SuccessRate:         h.successRate(),
		Availability:        h.availability(),
		CircuitTripCount:    h.tripCount,
		AverageResponseTime: h.averageResponseTime(),
	}
	if !h.lastSuccess.IsZero() {
		t := h.lastSuccess
		s.LastSuccess = &t
	}
	if !h.lastFailure.IsZero() {
		t := h.lastFailure
		s.LastFailure = &t
	}
	return s
}

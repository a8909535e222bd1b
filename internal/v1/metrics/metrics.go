package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat server.
//
// Naming convention: namespace_subsystem_name
// - namespace: chatd (application-level grouping)
// - subsystem: session, room, dispatch, mirror (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (sessions, rooms, occupants)
// - Counter: Cumulative events (frames processed, send failures)
// - Histogram: Latency distributions (frame dispatch time)

var (
	// ActiveSessions tracks the current number of live client sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "sessions_active",
		Help:      "Current number of live client sessions",
	})

	// ActiveRooms tracks the current number of rooms, including General.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatd",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms",
	})

	// RoomOccupants tracks the number of sessions in each room.
	RoomOccupants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatd",
		Subsystem: "room",
		Name:      "occupants_count",
		Help:      "Number of sessions in each room",
	}, []string{"room_id"})

	// FramesProcessed counts inbound frames by command and outcome.
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "dispatch",
		Name:      "frames_total",
		Help:      "Total inbound frames processed",
	}, []string{"command", "status"})

	// SendFailures counts transport sends that reported failure and therefore
	// scheduled the recipient for disconnect.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "dispatch",
		Name:      "send_failures_total",
		Help:      "Total outbound sends that failed",
	})

	// IdleSweeps counts sessions evicted by the idle-timeout sweeper.
	IdleSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "session",
		Name:      "idle_evictions_total",
		Help:      "Total sessions evicted by the idle sweeper",
	})

	// DispatchDuration tracks the time spent handling one inbound frame.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatd",
		Subsystem: "dispatch",
		Name:      "frame_seconds",
		Help:      "Time spent handling inbound frames",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// CircuitBreakerState reports the mirror breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatd",
		Subsystem: "mirror",
		Name:      "circuit_breaker_state",
		Help:      "Mirror circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts operations dropped while the breaker is open.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "mirror",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations rejected by an open circuit breaker",
	}, []string{"backend"})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the enrollment module.
// Duplicate rejections are a first-class signal: a spike means either a
// replay problem upstream or a population actually attempting re-enrollment.
type Metrics struct {
	Enrollments          *prometheus.CounterVec
	DuplicatesRejected   prometheus.Counter
	IntegrityFaults      prometheus.Counter
	Revocations          prometheus.Counter
	ControllerRotations  prometheus.Counter
	EnrollDuration       prometheus.Histogram
	AnchorDuration       prometheus.Histogram
	ReservationsReleased prometheus.Counter
}

// New creates a new Metrics instance with all enrollment module metrics registered.
func New() *Metrics {
	return &Metrics{
		Enrollments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "unum_enrollments_total",
			Help: "Total enrollment attempts by outcome",
		}, []string{"outcome", "network"}),
		DuplicatesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unum_duplicate_enrollments_rejected_total",
			Help: "Enrollments rejected because the commitment is already enrolled",
		}),
		IntegrityFaults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unum_derivation_integrity_faults_total",
			Help: "DID collisions across distinct commitments (should stay at zero)",
		}),
		Revocations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unum_revocations_total",
			Help: "Total identities revoked",
		}),
		ControllerRotations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unum_controller_rotations_total",
			Help: "Total controller set rotations",
		}),
		EnrollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "unum_enroll_duration_seconds",
			Help:    "Duration of full enrollments including anchoring",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		AnchorDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "unum_anchor_duration_seconds",
			Help:    "Duration of ledger anchoring including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ReservationsReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "unum_reservations_released_total",
			Help: "Reservations rolled back after anchoring failed",
		}),
	}
}

// RecordEnrollment records an enrollment attempt with its outcome.
func (m *Metrics) RecordEnrollment(outcome, network string) {
	m.Enrollments.WithLabelValues(outcome, network).Inc()
}

// ObserveEnroll records the duration of a full enrollment.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveEnroll(start time.Time) {
	m.EnrollDuration.Observe(time.Since(start).Seconds())
}

// ObserveAnchor records the duration of a ledger anchoring.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAnchor(start time.Time) {
	m.AnchorDuration.Observe(time.Since(start).Seconds())
}

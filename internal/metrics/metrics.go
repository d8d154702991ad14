package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level counters exposed on /metrics.
var (
	SessionsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edusched_sessions_generated_total",
		Help: "Attendance sessions created by the session generator.",
	})
	QrCheckins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edusched_qr_checkins_total",
		Help: "Attendance records written via QR scans.",
	})
	RollCallMarks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edusched_rollcall_marks_total",
		Help: "Learners marked present by online roll-calls.",
	})
	ScheduleConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edusched_schedule_conflicts_total",
		Help: "Educator assignments rejected due to schedule conflicts.",
	})
)

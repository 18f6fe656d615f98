package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status is the status of a measurable metric (job outcomes, sync polls, etc).
type Status string

// Common status values
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

var (
	jobCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "libkazv_job_total",
		Help: "The number of jobs completed, by job id and outcome",
	}, []string{"job_id", "status"})
	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "libkazv_job_duration_seconds",
		Help:    "Time from a job's dispatch to its response being processed",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_id"})
	syncCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "libkazv_sync_total",
		Help: "The number of sync long-polls completed, by outcome",
	}, []string{"status"})
	queueCancelledCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "libkazv_job_cancelled_total",
		Help: "The number of queued jobs cancelled by a failed predecessor",
	}, []string{"queue_id"})
	toDeviceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "libkazv_to_device_total",
		Help: "The number of to-device events handled, by event type",
	}, []string{"event_type"})
)

// IncrementJob increments the per-job-id outcome counter.
func IncrementJob(jobID string, st Status) {
	jobCounter.With(prometheus.Labels{"job_id": jobID, "status": string(st)}).Inc()
}

// ObserveJobDuration records the wall time between a job's dispatch and its
// response being routed back through the reducer.
func ObserveJobDuration(jobID string, d time.Duration) {
	jobDuration.With(prometheus.Labels{"job_id": jobID}).Observe(d.Seconds())
}

// IncrementSync increments the sync long-poll outcome counter.
func IncrementSync(st Status) {
	syncCounter.With(prometheus.Labels{"status": string(st)}).Inc()
}

// IncrementCancelled increments the synthetic-cancellation counter for a
// queue whose head job failed under CancelFutureIfFailed.
func IncrementCancelled(queueID string) {
	queueCancelledCounter.With(prometheus.Labels{"queue_id": queueID}).Inc()
}

// IncrementToDevice increments the to-device handling counter.
func IncrementToDevice(eventType string) {
	toDeviceCounter.With(prometheus.Labels{"event_type": eventType}).Inc()
}

func init() {
	prometheus.MustRegister(jobCounter)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(syncCounter)
	prometheus.MustRegister(queueCancelledCounter)
	prometheus.MustRegister(toDeviceCounter)
}

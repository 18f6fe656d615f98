package job

import (
	"github.com/sirupsen/logrus"
)

// Dispatcher drives Queues plus a caller-defined concurrency limit for
// jobs with no queue id (spec §4.3: "execute concurrently with respect
// to the transport, subject to a caller-defined concurrency limit").
// It holds no transport of its own; the effect runtime calls Admit to
// learn which jobs may be sent right now and reports completions back
// through Complete. Submit, Admit and Complete each return an updated
// Dispatcher carrying the changed queue/concurrency state.
type Dispatcher struct {
	queues      Queues
	concurrency int
	inFlight    map[string]bool // unqueued jobs currently admitted, keyed by a caller-supplied job key
	log         *logrus.Entry
}

// NewDispatcher builds a Dispatcher with the given concurrency limit for
// unqueued jobs. A limit of 0 or less is treated as unlimited.
func NewDispatcher(concurrency int, log *logrus.Entry) Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return Dispatcher{
		queues:      NewQueues(),
		concurrency: concurrency,
		inFlight:    make(map[string]bool),
		log:         log,
	}
}

// Submit enqueues j for dispatch. Queued jobs are tracked by Queues;
// unqueued jobs are tracked only once admitted.
func (d Dispatcher) Submit(j Job) Dispatcher {
	d.queues = d.queues.Enqueue(j)
	d.log.WithFields(logrus.Fields{
		"job_id":   j.ID,
		"queue_id": j.QueueID,
	}).Debug("job submitted")
	return d
}

// Admit returns the jobs that may be sent to the transport right now:
// every queue's head job (subject to the queue's own ordering), plus as
// many freshly-admitted unqueued jobs as the concurrency limit allows.
// unqueuedPending is the caller's backlog of not-yet-admitted unqueued
// jobs, each identified by a stable key used later in Complete.
func (d Dispatcher) Admit(unqueuedPending map[string]Job) (Dispatcher, []Job) {
	out := d.queues.Dispatchable()

	inFlight := cloneInFlight(d.inFlight)
	slots := d.concurrency - len(inFlight)
	if d.concurrency <= 0 {
		slots = len(unqueuedPending)
	}
	for key, j := range unqueuedPending {
		if slots <= 0 {
			break
		}
		if inFlight[key] {
			continue
		}
		inFlight[key] = true
		out = append(out, j)
		slots--
	}
	d.inFlight = inFlight
	return d, out
}

// Complete routes one job's response back into queue/concurrency state.
// ok reports whether the job succeeded (per Success); key is the same
// key passed to Admit for unqueued jobs, or "" for queued jobs.
func (d Dispatcher) Complete(j Job, key string, ok bool) (Dispatcher, []Job) {
	if j.QueueID != "" {
		queues, cancelled := d.queues.Completed(j, ok)
		d.queues = queues
		if !ok {
			d.log.WithFields(logrus.Fields{
				"job_id":   j.ID,
				"queue_id": j.QueueID,
			}).Warn("queued job failed")
		}
		return d, cancelled
	}
	inFlight := cloneInFlight(d.inFlight)
	delete(inFlight, key)
	d.inFlight = inFlight
	return d, nil
}

func cloneInFlight(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

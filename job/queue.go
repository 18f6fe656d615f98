package job

// Queues tracks per-queue-id ordering state: jobs sharing a queue id
// execute in submission order (spec §4.3); jobs with no queue id are not
// tracked here at all, since they run concurrently with respect to the
// transport.
type Queues struct {
	pending map[string][]Job
	failed  map[string]bool
}

// NewQueues returns an empty queue tracker.
func NewQueues() Queues {
	return Queues{pending: make(map[string][]Job), failed: make(map[string]bool)}
}

// Enqueue records j under its queue id (a no-op bookkeeping-wise for jobs
// with no queue id; those dispatch immediately and are never tracked).
func (q Queues) Enqueue(j Job) Queues {
	if j.QueueID == "" {
		return q
	}
	pending := clonePending(q.pending)
	pending[j.QueueID] = append(pending[j.QueueID], j)
	q.pending = pending
	return q
}

// Dispatchable returns the jobs that are now free to run: for each queue,
// only its head job is dispatchable until that job's response is routed.
func (q Queues) Dispatchable() []Job {
	var out []Job
	for _, jobs := range q.pending {
		if len(jobs) > 0 {
			out = append(out, jobs[0])
		}
	}
	return out
}

// Completed pops the head job of its queue after its response has been
// routed, and returns the tracker plus, if ok is false (the job failed)
// and its queue uses CancelFutureIfFailed, the successor jobs that are now
// synthetically cancelled.
func (q Queues) Completed(j Job, ok bool) (Queues, []Job) {
	if j.QueueID == "" {
		return q, nil
	}
	pending := clonePending(q.pending)
	jobs := pending[j.QueueID]
	if len(jobs) == 0 || jobs[0].ID != j.ID {
		return q, nil
	}
	jobs = jobs[1:]

	var cancelled []Job
	if !ok && j.QueuePolicy == CancelFutureIfFailed {
		cancelled = jobs
		jobs = nil
	}
	if len(jobs) == 0 {
		delete(pending, j.QueueID)
	} else {
		pending[j.QueueID] = jobs
	}
	q.pending = pending
	return q, cancelled
}

func clonePending(m map[string][]Job) map[string][]Job {
	out := make(map[string][]Job, len(m)+1)
	for k, v := range m {
		cp := make([]Job, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

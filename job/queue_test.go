package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrderingAndCancelFutureIfFailed(t *testing.T) {
	q := NewQueues()
	j1 := Job{ID: "SendMessage", QueueID: "room:1", QueuePolicy: CancelFutureIfFailed}
	j2 := Job{ID: "SendMessage", QueueID: "room:1", QueuePolicy: CancelFutureIfFailed}
	j3 := Job{ID: "SendMessage", QueueID: "room:1", QueuePolicy: CancelFutureIfFailed}
	q = q.Enqueue(j1).Enqueue(j2).Enqueue(j3)

	dispatchable := q.Dispatchable()
	require.Len(t, dispatchable, 1)
	assert.Equal(t, j1, dispatchable[0])

	var cancelled []Job
	q, cancelled = q.Completed(j1, false)
	assert.Len(t, cancelled, 2)
	assert.Empty(t, q.Dispatchable())
}

func TestQueueAlwaysContinueRunsAllJobs(t *testing.T) {
	q := NewQueues()
	j1 := Job{ID: "SendMessage", QueueID: "room:1", QueuePolicy: AlwaysContinue}
	j2 := Job{ID: "SendMessage", QueueID: "room:1", QueuePolicy: AlwaysContinue}
	q = q.Enqueue(j1).Enqueue(j2)

	q, cancelled := q.Completed(j1, false)
	assert.Empty(t, cancelled)
	dispatchable := q.Dispatchable()
	require.Len(t, dispatchable, 1)
	assert.Equal(t, j2, dispatchable[0])
}

func TestUnqueuedJobsAreNotTracked(t *testing.T) {
	q := NewQueues()
	j := Job{ID: "Sync"}
	q = q.Enqueue(j)
	assert.Empty(t, q.Dispatchable())
	q2, cancelled := q.Completed(j, true)
	assert.Empty(t, cancelled)
	assert.Equal(t, q, q2)
}

func TestDispatcherConcurrencyLimit(t *testing.T) {
	d := NewDispatcher(2, nil)
	pending := map[string]Job{
		"a": {ID: "GetContent", Path: "a"},
		"b": {ID: "GetContent", Path: "b"},
		"c": {ID: "GetContent", Path: "c"},
	}
	d, admitted := d.Admit(pending)
	assert.Len(t, admitted, 2)

	d, admitted2 := d.Admit(pending)
	assert.Empty(t, admitted2)

	d, _ = d.Complete(admitted[0], admitted[0].Path, true)
	_, admitted3 := d.Admit(pending)
	assert.Len(t, admitted3, 1)
}

func TestDispatcherQueuedJobsRouteThroughQueues(t *testing.T) {
	d := NewDispatcher(1, nil)
	j := Job{ID: "SendMessage", QueueID: "room:1", QueuePolicy: CancelFutureIfFailed}
	d = d.Submit(j)
	d, dispatchable := d.Admit(nil)
	require.Len(t, dispatchable, 1)
	assert.Equal(t, j.ID, dispatchable[0].ID)

	_, cancelled := d.Complete(j, "", false)
	assert.Empty(t, cancelled)
}

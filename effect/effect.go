// Package effect implements the single-threaded cooperative runtime from
// spec §5: one logical task queue, suspending only at transport.fetch,
// setTimeout and promise.then, driving package action's pure reducer.
//
// The start/stop-with-generation-token idiom below is adapted from the
// teacher's poll-loop cancellation pattern: a monotonic counter captured at
// schedule time invalidates a timer's callback if the engine has moved on
// by the time it fires, giving cancellation-by-dropped-promise (spec §5)
// without needing to track live timer handles.
package effect

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidwed/libkazv/action"
	"github.com/davidwed/libkazv/client"
	"github.com/davidwed/libkazv/trigger"
	"github.com/davidwed/libkazv/value"
)

// Engine owns the model and runs every action through action.Reduce on a
// single goroutine, so reduce is never invoked concurrently (spec §5's
// "runtime guarantees no concurrent invocation of reduce").
type Engine struct {
	mu         sync.Mutex
	model      client.Model
	generation uint64

	transport action.Transport
	random    value.Source

	actions chan action.Action
	emit    func(trigger.Trigger)
	log     *logrus.Entry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New constructs an Engine over an initial model. The pending-action
// channel has a fixed capacity of 64.
func New(model client.Model, transport action.Transport, random value.Source, emit func(trigger.Trigger), log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if emit == nil {
		emit = func(trigger.Trigger) {}
	}
	return &Engine{
		model:     model,
		transport: transport,
		random:    random,
		actions:   make(chan action.Action, 64),
		emit:      emit,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Dispatch enqueues an action for processing. Safe to call from any
// goroutine (it is the one way code outside the engine's own loop
// goroutine may influence it), matching how transport/timer callbacks
// re-enter the engine per spec §5.
func (e *Engine) Dispatch(a action.Action) {
	select {
	case e.actions <- a:
	case <-e.stop:
	}
}

// Model returns a snapshot of the current model. Safe for concurrent
// reads; the engine only ever replaces the whole value atomically.
func (e *Engine) Model() client.Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// Run drains the action queue on the calling goroutine until Stop is
// called. Callers typically run this in its own goroutine.
func (e *Engine) Run() {
	defer close(e.done)
	rt := action.Runtime{
		Transport: e.transport,
		Clock:     schedulerFor(e),
		Random:    e.random,
		Dispatch:  e.Dispatch,
		Emit:      e.emit,
	}
	for {
		select {
		case <-e.stop:
			return
		case a := <-e.actions:
			e.step(a, rt)
		}
	}
}

func (e *Engine) step(a action.Action, rt action.Runtime) {
	e.mu.Lock()
	model, eff := action.Reduce(e.model, a)
	e.model = model
	triggers := model.Triggers
	e.model = e.model.ClearTriggers()
	e.mu.Unlock()

	for _, t := range triggers.Items() {
		e.emit(t)
	}
	e.log.WithField("action", a.Name()).Debug("reduced")
	if eff != nil {
		eff(rt)
	}
}

// Stop halts the run loop and invalidates any still-pending timers
// scheduled through this engine's Clock, per spec §5's
// cancellation-by-dropped-promise semantics.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.generation++
		e.mu.Unlock()
		close(e.stop)
	})
}

// Wait blocks until Run has returned.
func (e *Engine) Wait() { <-e.done }

// schedulerFor wraps a Clock so every timer it schedules is tagged with the
// engine's current generation; if the engine has stopped (generation
// advanced) by the time the timer fires, the callback is dropped instead of
// running, exactly the teacher's start/stop-with-generation-token idiom.
func schedulerFor(e *Engine) action.Clock {
	return generationClock{engine: e}
}

type generationClock struct{ engine *Engine }

func (g generationClock) SetTimeout(fn func(), d time.Duration) (cancel func()) {
	e := g.engine
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()

	timer := time.AfterFunc(d, func() {
		e.mu.Lock()
		stale := e.generation != gen
		e.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
	return func() { timer.Stop() }
}

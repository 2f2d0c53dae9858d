package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/metrics"
	"github.com/clive/pair/internal/model"
)

// ErrBusy is returned when an exclusive task is requested while another
// holds the work slot.
var ErrBusy = errors.New(errors.CodeRejected, "another task is running")

// Task is a unit of background work. Returned errors are converted to
// messages on the channel.
type Task func(ctx context.Context) error

// Dispatcher launches background execution contexts
type Dispatcher struct {
	ch      *Channel
	slot    WorkSlot
	mu      sync.Mutex // orders slot acquisition against guarded tasks
	guarded bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher posting to ch
func NewDispatcher(ch *Channel, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ch:      ch,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("component", "dispatcher"),
		metrics: m,
	}
}

// RunExclusive runs fn in a new goroutine while holding the work slot. If
// the slot is held or a guarded task runs, fn is not run and ErrBusy is
// returned. Once fn returns
// the slot is released and exactly one TaskDone is posted.
func (d *Dispatcher) RunExclusive(name string, fn Task) error {
	d.mu.Lock()
	ok := !d.guarded && d.slot.TryAcquire()
	d.mu.Unlock()
	if !ok {
		d.metrics.Rejected()
		d.logger.Debug("exclusive task rejected", "task", name)
		return fmt.Errorf("%s: %w", name, ErrBusy)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(name, fn)
		d.slot.Release()
		d.ch.Send(d.tag(name, model.TaskDone()))
	}()
	return nil
}

// RunConcurrent runs fn in a new goroutine without touching the work slot
func (d *Dispatcher) RunConcurrent(name string, fn Task) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(name, fn)
	}()
}

// RunGuarded runs fn without taking the work slot, but it is refused while an
// exclusive task runs and no exclusive task may start until fn returns. No
// TaskDone is posted; fn reports its own completion.
func (d *Dispatcher) RunGuarded(name string, fn Task) error {
	d.mu.Lock()
	if d.guarded || d.slot.Running() {
		d.mu.Unlock()
		d.metrics.Rejected()
		d.logger.Debug("guarded task rejected", "task", name)
		return fmt.Errorf("%s: %w", name, ErrBusy)
	}
	d.guarded = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			d.guarded = false
			d.mu.Unlock()
		}()
		d.run(name, fn)
	}()
	return nil
}

// run executes fn, converting errors and panics into messages
func (d *Dispatcher) run(name string, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
			d.metrics.ObserveAction(name, fmt.Errorf("panic"))
			d.ch.Send(d.tag(name, model.Error(fmt.Sprintf("%s: internal error: %v", name, r))))
		}
	}()

	err := fn(d.ctx)
	d.metrics.ObserveAction(name, err)
	if err == nil {
		return
	}
	d.logger.Warn("task failed", "task", name, "code", errors.CodeOf(err), "error", err)
	d.ch.Send(d.tag(name, messageFor(err)))
}

// messageFor maps an error to the message that reports it
func messageFor(err error) model.Message {
	if errors.CodeOf(err) == errors.CodeAction {
		return model.Log(errors.UserText(err))
	}
	return model.Error(errors.UserText(err))
}

func (d *Dispatcher) tag(name string, msg model.Message) model.Message {
	msg.Source = name
	return msg
}

// Busy reports whether an exclusive or guarded task is running
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.guarded || d.slot.Running()
}

// Wait blocks until every launched context has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown cancels the context handed to running tasks and waits for them
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
}

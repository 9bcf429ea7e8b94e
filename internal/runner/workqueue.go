// Package runner distributes tasks over pools of persistent workers, each
// bound to one device.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/signalnine/shardrun/internal/device"
)

// Task runs on a worker. A returned error is fatal to the whole queue;
// expected failures belong in the returned value.
type Task func(ctx context.Context, w *Worker) (any, error)

const idle = "IDLE"

type Worker struct {
	ID int
	// Device is the device every task on this worker addresses. It is nil
	// for queues that are not bound to devices.
	Device *device.Device

	mu     sync.Mutex
	status string
}

func (w *Worker) SetStatus(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
}

func (w *Worker) Status() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) name() string {
	if w.Device == nil {
		return fmt.Sprintf("worker %d", w.ID)
	}
	return fmt.Sprintf("%s worker %d", w.Device.Serial, w.ID)
}

// TaskError is delivered in place of a result when a task fails outside its
// expected-failure channel or panics.
type TaskError struct {
	Worker string
	Err    error
	Stack  string
}

func (e *TaskError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("%s: %v\n%s", e.Worker, e.Err, e.Stack)
	}
	return fmt.Sprintf("%s: %v", e.Worker, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Outcome is either a task's value or a fatal error.
type Outcome struct {
	Value any
	Err   *TaskError
}

// WorkQueue runs tasks on a fixed pool of workers that share one task FIFO
// and one result FIFO.
type WorkQueue struct {
	tasks       *queue[Task]
	results     *queue[Outcome]
	workers     []*Worker
	wg          sync.WaitGroup
	outstanding atomic.Int64
}

// NewWorkQueue starts n workers bound to dev, which may be nil. ctx is passed
// to every task; Terminate does not cancel it.
func NewWorkQueue(ctx context.Context, n int, dev *device.Device) *WorkQueue {
	return newWorkQueue(ctx, n, dev, newQueue[Task](), newQueue[Outcome]())
}

func newWorkQueue(ctx context.Context, n int, dev *device.Device, tasks *queue[Task], results *queue[Outcome]) *WorkQueue {
	if n < 1 {
		n = 1
	}
	q := &WorkQueue{tasks: tasks, results: results}
	for i := 0; i < n; i++ {
		w := &Worker{ID: i, Device: dev, status: idle}
		q.workers = append(q.workers, w)
		q.wg.Add(1)
		go q.work(ctx, w)
	}
	return q
}

func (q *WorkQueue) work(ctx context.Context, w *Worker) {
	defer q.wg.Done()
	for {
		t, ok := q.tasks.get()
		if !ok {
			return
		}
		out := runTask(ctx, w, t)
		w.SetStatus(idle)
		q.results.put(out)
	}
}

func runTask(ctx context.Context, w *Worker, t Task) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: &TaskError{
				Worker: w.name(),
				Err:    fmt.Errorf("panic: %v", r),
				Stack:  string(debug.Stack()),
			}}
		}
	}()
	v, err := t(ctx, w)
	if err != nil {
		return Outcome{Err: &TaskError{Worker: w.name(), Err: err}}
	}
	return Outcome{Value: v}
}

// AddTask enqueues t without blocking.
func (q *WorkQueue) AddTask(t Task) {
	q.outstanding.Add(1)
	q.tasks.put(t)
}

// GetResult blocks until a task completes. A *TaskError means the batch
// must be abandoned; the outstanding count is left as is.
func (q *WorkQueue) GetResult() (any, error) {
	o, _ := q.results.get()
	if o.Err != nil {
		return nil, o.Err
	}
	q.outstanding.Add(-1)
	return o.Value, nil
}

// Finished reports whether every added task has been collected.
func (q *WorkQueue) Finished() bool {
	return q.outstanding.Load() == 0
}

// Terminate stops workers from taking new tasks. Running tasks finish.
func (q *WorkQueue) Terminate() {
	q.tasks.close()
}

// Join waits for all workers to exit. Call Terminate first.
func (q *WorkQueue) Join() {
	q.wg.Wait()
}

func (q *WorkQueue) Workers() []*Worker {
	return q.workers
}

func (q *WorkQueue) Snapshot() Snapshot {
	s := Snapshot{Remaining: int(q.outstanding.Load())}
	for _, w := range q.workers {
		s.Workers = append(s.Workers, workerStatus(w))
	}
	return s
}

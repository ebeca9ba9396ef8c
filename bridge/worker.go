package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/flowmon/internal/groutine"
)

// ErrStopTimeout is returned by Stop when running tasks outlive the timeout.
var ErrStopTimeout = errors.New("worker stop timed out")

// Task is a unit of background work. ctx is canceled when the worker stops.
type Task func(ctx context.Context)

type namedTask struct {
	name string
	fn   Task
}

// Worker is the application-lifetime background context.
//
// Tasks are submitted on a lane. Tasks sharing a lane run one at a time in
// submission order; different lanes run concurrently. A lane goroutine exists
// only while its lane has queued work.
type Worker struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Logger

	mu      sync.Mutex
	lanes   map[string][]namedTask // key present while a lane goroutine runs
	stopped bool
	wg      sync.WaitGroup
}

// NewWorker creates a running worker whose context derives from parent.
func NewWorker(parent context.Context, logger *logrus.Logger) *Worker {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Worker{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		lanes:  make(map[string][]namedTask),
	}
}

// Submit queues task on lane. Returns false once the worker is stopped.
func (w *Worker) Submit(lane, name string, task Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		w.logger.WithFields(logrus.Fields{"lane": lane, "task": name}).Debug("Worker stopped, task rejected")
		return false
	}

	queue, running := w.lanes[lane]
	w.lanes[lane] = append(queue, namedTask{name: name, fn: task})
	if !running {
		w.wg.Add(1)
		groutine.Go(w.ctx, "worker-"+lane, func(ctx context.Context) {
			defer w.wg.Done()
			w.runLane(ctx, lane)
		})
	}
	return true
}

func (w *Worker) runLane(ctx context.Context, lane string) {
	for {
		w.mu.Lock()
		queue := w.lanes[lane]
		if len(queue) == 0 {
			delete(w.lanes, lane)
			w.mu.Unlock()
			return
		}
		task := queue[0]
		w.lanes[lane] = queue[1:]
		w.mu.Unlock()

		w.run(ctx, lane, task)
	}
}

func (w *Worker) run(ctx context.Context, lane string, task namedTask) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(logrus.Fields{
				"lane":      lane,
				"task":      task.name,
				"goroutine": groutine.GetName(ctx),
				"panic":     fmt.Sprint(r),
			}).Error("Worker task panicked")
		}
	}()

	w.logger.WithFields(logrus.Fields{"lane": lane, "task": task.name}).Debug("Worker task started")
	task.fn(ctx)
}

// Context returns the worker context.
func (w *Worker) Context() context.Context {
	return w.ctx
}

// Stop rejects new tasks, cancels the worker context and waits for queued and
// running tasks to return. Tasks already queued still run, with a canceled context.
func (w *Worker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		w.logger.WithField("timeout", timeout).Warn("Worker tasks still running after stop timeout")
		return ErrStopTimeout
	}
}

package usagelog

import (
	"context"
	"sync"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/solstream/keygate/internal/metrics"
	"github.com/solstream/keygate/internal/models"
)

// Worker represents a usage recording worker that processes recording tasks
type Worker struct {
	service  *Service
	tasks    chan RecordTask
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// RecordTask represents a usage recording task
type RecordTask struct {
	Params    models.RecordUsageParams
	RequestID string
}

// NewWorker creates a new usage recording worker with the specified pool size
func NewWorker(service *Service, poolSize, bufferSize int) *Worker {
	w := &Worker{
		service: service,
		tasks:   make(chan RecordTask, bufferSize),
		stopped: make(chan struct{}),
	}

	for range poolSize {
		w.wg.Add(1)
		go w.run()
	}

	return w
}

// Submit enqueues a usage recording task. Recording is fire-and-forget: a
// stopped worker or a full buffer drops the task with a warning, never an
// error back to the request path.
func (w *Worker) Submit(params models.RecordUsageParams, requestID string) {
	select {
	case <-w.stopped:
		fiberlog.Warnf("[%s] Worker stopped, cannot submit usage recording task", requestID)
		metrics.UsageEntriesDropped.Inc()
		return
	case w.tasks <- RecordTask{Params: params, RequestID: requestID}:
	default:
		fiberlog.Warnf("[%s] Usage recording buffer full, dropping task", requestID)
		metrics.UsageEntriesDropped.Inc()
	}
}

// run processes tasks from the queue
func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopped:
			return
		case task := <-w.tasks:
			_, err := w.service.Record(context.Background(), task.Params)
			if err != nil {
				fiberlog.Errorf("[%s] Failed to record usage: %v", task.RequestID, err)
			}
		}
	}
}

// Stop gracefully stops the worker pool. The task channel stays open so a
// racing Submit can never send on a closed channel; late tasks are dropped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.wg.Wait()
	})
}

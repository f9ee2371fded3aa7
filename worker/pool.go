// Package worker provides the generation worker pool, the task dispatcher
// that feeds it, and the terminate operation.
//
// The pool decouples generation from the HTTP hot path: Submit returns a
// task id immediately, and the outcome is observable only through the
// stream log and the message's terminal status.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/omnichat/relay/pkg/cancel"
	"github.com/omnichat/relay/pkg/chat"
	"github.com/omnichat/relay/pkg/llm/provider"
	"github.com/omnichat/relay/pkg/store"
	"github.com/omnichat/relay/pkg/streamlog"
)

var (
	defaultNumWorkers      uint = 4
	defaultJobQueueSize    uint = 256
	defaultCheckpointEvery      = 10
)

// Job is one claimed generation task.
type Job struct {
	Task chat.Task
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Store is the Conversation Store.
	Store store.Driver

	// Log is the per-conversation stream log.
	Log streamlog.Log

	// Cancels is the shared cancellation flag registry.
	Cancels cancel.Registry

	// Providers resolves provider/model pairs to adapters.
	Providers *provider.Registry

	// NumWorkers is the number of concurrent generation workers.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// CheckpointEvery persists in-progress content every N fragments.
	// Bounded staleness keeps the hot path cheap.
	CheckpointEvery int

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Pool executes generation jobs, one worker goroutine per in-flight task.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = defaultCheckpointEvery
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full and the job dropped.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			zap.String("task_id", job.Task.ID),
			zap.String("conversation_id", job.Task.ConversationID),
			zap.String("provider", job.Task.Provider),
			zap.String("model", job.Task.Model),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("task_id", job.Task.ID),
			zap.String("provider", job.Task.Provider),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker goroutine that continuously pulls jobs off the
// queue. Each job runs end-to-end on this goroutine; ownership of the task
// and its streaming message never moves.
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", zap.Uint("worker_id", id))
}

func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	task := job.Task
	task.State = chat.TaskRunning

	state, err := p.runTask(ctx, &task)
	task.State = state

	if err != nil {
		p.logger.Error("generation task failed",
			zap.String("task_id", task.ID),
			zap.String("conversation_id", task.ConversationID),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("generation task finished",
		zap.String("task_id", task.ID),
		zap.String("conversation_id", task.ConversationID),
		zap.String("state", string(state)),
	)
}

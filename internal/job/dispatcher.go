package job

import (
	"sync"
	"time"

	"github.com/rurikawa-judge/judger/internal/cancel"
	"github.com/rurikawa-judge/judger/internal/model"
	"github.com/rurikawa-judge/judger/logger"
)

// hardDeadline is the 30-minute ceiling on any one job, independent of its
// own cancellation: a runaway job can't hold a worker slot forever.
const hardDeadline = 30 * time.Minute

// runningJob tracks a dispatched job's cancel handle so AbortJob messages
// can find it.
type runningJob struct {
	cancelHandle *cancel.Token
	done         chan struct{}
}

// Dispatcher accepts jobs from the connection's read loop and spawns a
// Pipeline run for each, per §4.11.
type Dispatcher struct {
	Pipeline  *Pipeline
	RootToken *cancel.Token

	mu         sync.Mutex
	runningJobs map[model.JobID]*runningJob
}

// NewDispatcher builds a Dispatcher bound to a Pipeline and the worker's
// root cancellation token.
func NewDispatcher(pipeline *Pipeline, root *cancel.Token) *Dispatcher {
	return &Dispatcher{
		Pipeline:    pipeline,
		RootToken:   root,
		runningJobs: make(map[model.JobID]*runningJob),
	}
}

// Accept allocates a two-level cancel token for j (job token, then a
// cancel handle child of it, so AbortJob never affects the root) and
// spawns its Pipeline run.
func (d *Dispatcher) Accept(j model.Job) {
	jobToken := d.RootToken.Child()
	cancelHandle := jobToken.Child()

	done := make(chan struct{})
	d.mu.Lock()
	d.runningJobs[j.ID] = &runningJob{cancelHandle: cancelHandle, done: done}
	d.mu.Unlock()

	deadlineTimer := time.AfterFunc(hardDeadline, func() {
		logger.JobWarnw("job exceeded hard deadline, aborting", "job_id", j.ID.String())
		jobToken.Cancel(cancel.CauseAborted)
	})

	go func() {
		defer close(done)
		defer deadlineTimer.Stop()
		defer d.forget(j.ID)
		d.Pipeline.Run(j, cancelHandle)
	}()
}

// Abort cancels a running job's handle with the given cause, without
// touching the root or any sibling job. A no-op if the job isn't running.
func (d *Dispatcher) Abort(abort model.AbortJob) {
	d.mu.Lock()
	rj, ok := d.runningJobs[abort.JobID]
	d.mu.Unlock()
	if !ok {
		return
	}

	cause := cancel.CauseAborted
	if abort.AsCancel {
		cause = cancel.CauseCancelled
	}
	rj.cancelHandle.Cancel(cause)
}

func (d *Dispatcher) forget(id model.JobID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.runningJobs, id)
}

// RunningCount reports how many jobs are currently dispatched, used by the
// Poller to compute requestCount = maxConcurrentJobs − runningJobs.
func (d *Dispatcher) RunningCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runningJobs)
}

package queue

import "context"

// Dispatch scopes carried on a job.
const (
	ScopeAllPending = "all_pending"
	ScopeFailedOnly = "failed_only"
)

// DispatchJob asks the worker to run one dispatch pass over a batch.
type DispatchJob struct {
	BatchID string `json:"batch_id"`
	Scope   string `json:"scope"`
}

// Queue hands dispatch jobs from the API process to the worker.
type Queue interface {
	PublishDispatch(job DispatchJob) error
}

// Dispatcher is the narrow slice of the dispatch worker the in-memory queue
// needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID, scope string) error
}

// InMemoryQueue runs dispatch passes in-process. Used by tests and
// single-process development mode.
type InMemoryQueue struct {
	Dispatcher Dispatcher
	Async      bool
	OnError    func(job DispatchJob, err error)
}

func NewInMemoryQueue(d Dispatcher) *InMemoryQueue {
	return &InMemoryQueue{Dispatcher: d}
}

func (q *InMemoryQueue) PublishDispatch(job DispatchJob) error {
	if q.Async {
		go q.run(job)
		return nil
	}
	return q.Dispatcher.Dispatch(context.Background(), job.BatchID, job.Scope)
}

func (q *InMemoryQueue) run(job DispatchJob) {
	if err := q.Dispatcher.Dispatch(context.Background(), job.BatchID, job.Scope); err != nil && q.OnError != nil {
		q.OnError(job, err)
	}
}

var _ Queue = (*InMemoryQueue)(nil)

// Package pool implements the bounded worker pools backing the dispatch queues.
//
// A pool grows to its maximum worker count before it queues: a submission is
// handed to an idle worker if one is waiting, otherwise a new worker is started
// while the pool is below MaxSize, otherwise the task is enqueued, and only when
// the queue is full as well the task is rejected. Rejections are counted and
// surface as *RejectedError (wrapping ErrRejected) so callers can map them to a
// too-busy answer without ever running the task.
//
// Workers above CoreSize exit after KeepAlive of idleness. A worker never exits
// while tasks are queued.
package pool

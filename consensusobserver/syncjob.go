package consensusobserver

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// SyncJob is the cancellable background task that drives a catch-up to a
// target ledger info (spec §4.5, component C5). Cancellation is an explicit
// context.CancelFunc checked at SyncTo's suspension points, the substitute
// spec §9 calls for when "the host lacks [an abortable spawn primitive]."
type SyncJob struct {
	Target LedgerInfo
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// StartSyncJob spawns the catch-up task. On success it posts target on
// completion; on failure it logs and posts nothing, leaving the observer in
// sync mode until superseded (spec §4.5). On Cancel, the task is aborted at
// its next suspension point inside execClient.SyncTo and nothing is posted.
func StartSyncJob(parent context.Context, execClient ExecutionClient, target LedgerInfo, completion chan<- LedgerInfo) *SyncJob {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	job := &SyncJob{Target: target, cancel: cancel, group: group, done: done}

	group.Go(func() error {
		defer close(done)
		err := execClient.SyncTo(gctx, target)
		if err != nil {
			if gctx.Err() != nil {
				log.Debug("sync job aborted", "target", target.Key())
				return nil
			}
			log.Error("sync job failed", "target", target.Key(), "err", err)
			return nil
		}
		select {
		case completion <- target:
		case <-gctx.Done():
		}
		return nil
	})
	return job
}

// Cancel aborts the job. It does not block; the job's goroutine observes
// ctx.Done() at its next suspension point and exits without posting.
func (j *SyncJob) Cancel() { j.cancel() }

// Done closes once the job's goroutine has exited, successfully or not.
func (j *SyncJob) Done() <-chan struct{} { return j.done }

// SyncHandle guards an in-flight SyncJob. Its presence is equivalent to the
// observer being in sync mode (spec §3). At most one exists at any instant
// (invariant I5): installing a new handle cancels the previous job.
type SyncHandle struct {
	Job *SyncJob
}

// Cancel aborts the underlying job, if any.
func (h *SyncHandle) Cancel() {
	if h != nil && h.Job != nil {
		h.Job.Cancel()
	}
}

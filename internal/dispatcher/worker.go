package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cainiao1230/LoadBalance/internal/queue"
	"github.com/cainiao1230/LoadBalance/internal/upstreamclient"
)

// Run starts the worker pool and blocks until ctx is cancelled. On
// cancellation it waits up to a 2s grace period for in-flight jobs to finish
// their mandatory cleanup before returning.
func (g *Gateway) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < g.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			g.workerLoop(ctx, id)
		}(i)
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		g.logger.Warn("worker pool grace period exceeded, forcing shutdown")
	}
}

func (g *Gateway) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := g.queue.Dequeue(ctx)
		if err != nil {
			g.logger.Error("dequeue failed", "worker", id, "error", err)
			time.Sleep(g.timing.DequeueIdleWait)
			continue
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.timing.DequeueIdleWait):
			}
			continue
		}

		g.processJob(ctx, job)
	}
}

// processJob runs one job end to end. Step 7 of the dispatch design — always
// releasing the concurrency permit and clearing the processing-set entry —
// is implemented as a defer so every return path, including early failures,
// executes it.
func (g *Gateway) processJob(ctx context.Context, job queue.Job) {
	startTime := time.Now()
	if err := g.queue.MarkProcessing(ctx, job.TaskID, startTime); err != nil {
		g.logger.Error("mark processing failed", "task_id", job.TaskID, "error", err)
	}

	if err := g.limiter.Acquire(ctx); err != nil {
		g.processing.Remove(job.DroneID)
		_ = g.queue.MarkFailed(ctx, job.TaskID, startTime, err.Error())
		return
	}

	select {
	case g.sema <- struct{}{}:
	case <-ctx.Done():
		g.processing.Remove(job.DroneID)
		_ = g.queue.MarkFailed(ctx, job.TaskID, startTime, ctx.Err().Error())
		return
	}
	defer func() { <-g.sema }()
	defer g.processing.Remove(job.DroneID)

	result, err := g.upstream.CallDecrypt(ctx, job.TargetUpstreamIndex, job.RawHex)
	if err != nil {
		_ = g.queue.MarkFailed(ctx, job.TaskID, startTime, err.Error())
		return
	}

	body, err := json.Marshal(result.Raw)
	if err != nil {
		_ = g.queue.MarkFailed(ctx, job.TaskID, startTime, err.Error())
		return
	}
	if err := g.queue.MarkCompleted(ctx, job.TaskID, startTime, body); err != nil {
		g.logger.Error("mark completed failed", "task_id", job.TaskID, "error", err)
	}

	g.applyDecryptOutcome(ctx, job, result)
}

func (g *Gateway) applyDecryptOutcome(ctx context.Context, job queue.Job, result upstreamclient.DecryptResult) {
	idx := job.TargetUpstreamIndex

	switch result.Msg {
	case "keygen_succ":
		g.affinity.Insert(job.DroneID, idx, result.SN)
		g.registry.BumpKeySuccess(idx)
		g.registry.BumpRequestTotal(idx)
		g.bestEffortAfterSuccess(ctx, job, idx)

	case "keygen_busy":
		g.registry.SetBusy(idx, g.timing.BusyTimeout)
		g.affinity.Insert(job.DroneID, idx, "")
		g.registry.BumpKeygenBusy(idx)
		g.registry.BumpRequestTotal(idx)
		if g.users != nil {
			if err := g.users.BumpUpstreamCounter(ctx, idx, "keygen_busy_count"); err != nil {
				g.logger.Warn("bump keygen_busy_count failed", "error", err)
			}
			if err := g.users.BumpUpstreamCounter(ctx, idx, "request_total"); err != nil {
				g.logger.Warn("bump request_total failed", "error", err)
			}
		}

	case "key_exist":
		g.affinity.Insert(job.DroneID, idx, result.SN)
		if g.users != nil {
			if acct, err := g.users.Lookup(ctx, job.Username); err == nil {
				if err := g.users.RecordDroneHistory(ctx, idx, acct.UserID, job.DroneID); err != nil {
					g.logger.Warn("record drone history failed", "error", err)
				}
			}
		}

	default:
		// No affinity update: the upstream did not report a keygen outcome.
	}
}

func (g *Gateway) bestEffortAfterSuccess(ctx context.Context, job queue.Job, idx int) {
	if g.users == nil {
		return
	}
	if err := g.users.BumpDecryptSuccess(ctx, job.Username); err != nil {
		g.logger.Warn("bump decrypt success failed", "error", err)
	}
	if err := g.users.BumpUpstreamCounter(ctx, idx, "key_success_count"); err != nil {
		g.logger.Warn("bump key_success_count failed", "error", err)
	}
	if err := g.users.BumpUpstreamCounter(ctx, idx, "request_total"); err != nil {
		g.logger.Warn("bump request_total failed", "error", err)
	}
	if acct, err := g.users.Lookup(ctx, job.Username); err == nil {
		if err := g.users.RecordDroneHistory(ctx, idx, acct.UserID, job.DroneID); err != nil {
			g.logger.Warn("record drone history failed", "error", err)
		}
	}
}

// Package queue implements the priority queue of pending key-packet jobs on
// top of a Redis sorted set, plus the mirrored per-task result slots that
// let the front-end await a worker's outcome.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cainiao1230/LoadBalance/internal/apierr"
)

// DefaultCapacity is the distilled spec's MAX_QUEUE.
const DefaultCapacity = 200

const queueKey = "queue:priority"

func taskKey(taskID string) string { return fmt.Sprintf("task:%s", taskID) }

// Job is one pending key-packet dispatch.
type Job struct {
	TaskID              string `json:"task_id"`
	Username            string `json:"username"`
	Priority            int    `json:"priority"`
	CallerUpdateEpoch   int64  `json:"caller_update_epoch"`
	RawHex              string `json:"raw_hex"`
	DroneID             string `json:"drone_id"`
	TargetUpstreamIndex int    `json:"target_upstream_index"`
}

// Score computes the deterministic queue ordering key: priority dominates,
// and within a priority tier, more recently reconfigured users run first.
func Score(priority int, callerUpdateEpoch int64) float64 {
	return float64(priority)*1e15 + (-float64(callerUpdateEpoch) * 1e6)
}

// Status is the lifecycle state of a queued job, mirrored in the task slot.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// TaskRecord is the JSON payload stored at task:{task-id}.
type TaskRecord struct {
	Status    Status          `json:"status"`
	StartTime time.Time       `json:"start_time,omitempty"`
	FinishTime time.Time      `json:"finish_time,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Queue wraps a Redis client with the job ZSET and task KV operations.
type Queue struct {
	rdb         *redis.Client
	capacity    int
	resultTTL   time.Duration
}

// New builds a Queue backed by the given Redis client.
func New(rdb *redis.Client, capacity int, resultTTL time.Duration) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if resultTTL <= 0 {
		resultTTL = 300 * time.Second
	}
	return &Queue{rdb: rdb, capacity: capacity, resultTTL: resultTTL}
}

// Enqueue pushes a job onto the priority ZSET and creates its initial
// "queued" task slot. Returns QueueFull if the queue is already at capacity.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	size, err := q.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return apierr.Internalf("queue size check failed")
	}
	if size >= int64(q.capacity) {
		return apierr.QueueFullf("priority queue is full")
	}

	member, err := json.Marshal(job)
	if err != nil {
		return apierr.Internalf("encode job failed")
	}

	score := Score(job.Priority, job.CallerUpdateEpoch)
	if err := q.rdb.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return apierr.Internalf("enqueue failed")
	}

	rec := TaskRecord{Status: StatusQueued, StartTime: time.Now()}
	if err := q.writeTask(ctx, job.TaskID, rec); err != nil {
		// roll back the ZSET member so the queue doesn't carry a job with no slot
		q.rdb.ZRem(ctx, queueKey, member)
		return err
	}
	return nil
}

// Dequeue atomically pops the lowest-score job, or returns (Job{}, false, nil)
// if the queue is currently empty.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool, error) {
	res, err := q.rdb.ZPopMin(ctx, queueKey, 1).Result()
	if err != nil {
		return Job{}, false, apierr.Internalf("dequeue failed")
	}
	if len(res) == 0 {
		return Job{}, false, nil
	}

	raw, ok := res[0].Member.(string)
	if !ok {
		return Job{}, false, apierr.Internalf("malformed queue member")
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, false, apierr.Internalf("decode job failed")
	}
	return job, true, nil
}

func (q *Queue) writeTask(ctx context.Context, taskID string, rec TaskRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return apierr.Internalf("encode task record failed")
	}
	if err := q.rdb.Set(ctx, taskKey(taskID), b, q.resultTTL).Err(); err != nil {
		return apierr.Internalf("write task slot failed")
	}
	return nil
}

// MarkProcessing overwrites a task slot's status, preserving start_time.
// startTime is used only when the slot holds no start time of its own.
func (q *Queue) MarkProcessing(ctx context.Context, taskID string, startTime time.Time) error {
	if rec, found, err := q.ReadTask(ctx, taskID); err == nil && found && !rec.StartTime.IsZero() {
		startTime = rec.StartTime
	}
	return q.writeTask(ctx, taskID, TaskRecord{Status: StatusProcessing, StartTime: startTime})
}

// MarkCompleted writes a terminal success result.
func (q *Queue) MarkCompleted(ctx context.Context, taskID string, startTime time.Time, data json.RawMessage) error {
	return q.writeTask(ctx, taskID, TaskRecord{
		Status:     StatusCompleted,
		StartTime:  startTime,
		FinishTime: time.Now(),
		Data:       data,
	})
}

// MarkFailed writes a terminal failure result. The error string is internal
// detail destined for logs; callers translate a failed status into a
// generic message before returning it to an HTTP caller.
func (q *Queue) MarkFailed(ctx context.Context, taskID string, startTime time.Time, errMsg string) error {
	return q.writeTask(ctx, taskID, TaskRecord{
		Status:     StatusFailed,
		StartTime:  startTime,
		FinishTime: time.Now(),
		Error:      errMsg,
	})
}

// ReadTask reads the current task slot. A missing key means the TTL expired
// (or the task never existed) — the caller maps this to a timeout.
func (q *Queue) ReadTask(ctx context.Context, taskID string) (TaskRecord, bool, error) {
	b, err := q.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if err == redis.Nil {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, apierr.Internalf("read task slot failed")
	}
	var rec TaskRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return TaskRecord{}, false, apierr.Internalf("decode task slot failed")
	}
	return rec, true, nil
}

// AwaitResult polls the task slot every pollInterval until it reaches a
// terminal state, the slot disappears (TTL expiry = timeout), or ctx is done.
func (q *Queue) AwaitResult(ctx context.Context, taskID string, pollInterval time.Duration) (TaskRecord, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		rec, found, err := q.ReadTask(ctx, taskID)
		if err != nil {
			return TaskRecord{}, err
		}
		if !found {
			return TaskRecord{}, apierr.WaitTimeoutf("task result timed out")
		}
		switch rec.Status {
		case StatusCompleted, StatusFailed:
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return TaskRecord{}, apierr.WaitTimeoutf("wait for task result cancelled")
		case <-ticker.C:
		}
	}
}

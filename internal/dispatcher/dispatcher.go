// Package dispatcher wires together the packet classifier, upstream
// registry, key-affinity map, processing set, rate limiter, upstream client,
// priority queue, and user store into the worker pool and request front-end
// that together route drone radio frames to decryption upstreams.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cainiao1230/LoadBalance/internal/affinity"
	"github.com/cainiao1230/LoadBalance/internal/processing"
	"github.com/cainiao1230/LoadBalance/internal/queue"
	"github.com/cainiao1230/LoadBalance/internal/ratelimiter"
	"github.com/cainiao1230/LoadBalance/internal/registry"
	"github.com/cainiao1230/LoadBalance/internal/upstreamclient"
	"github.com/cainiao1230/LoadBalance/internal/userstore"
)

// UpstreamCaller is the one upstream-client operation the gateway needs:
// dispatching a hex frame to a specific upstream index and decoding its
// keygen_succ/keygen_busy/key_exist outcome.
type UpstreamCaller interface {
	CallDecrypt(ctx context.Context, idx int, hexData string) (upstreamclient.DecryptResult, error)
}

// TaskQueue is the subset of the priority queue the gateway drives: handing
// off a key-packet job, the worker pool's dequeue loop, and the task-slot
// lifecycle each job passes through.
type TaskQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	Dequeue(ctx context.Context) (queue.Job, bool, error)
	MarkProcessing(ctx context.Context, taskID string, startTime time.Time) error
	MarkCompleted(ctx context.Context, taskID string, startTime time.Time, data json.RawMessage) error
	MarkFailed(ctx context.Context, taskID string, startTime time.Time, errMsg string) error
	AwaitResult(ctx context.Context, taskID string, pollInterval time.Duration) (queue.TaskRecord, error)
}

// UserStore is the subset of the MySQL-backed account store the gateway
// touches for auth, quota, and best-effort bookkeeping. A nil UserStore
// makes Authenticate (and so Login, QueryPersonData and HandleDecrypt) fail
// with an Internal error; the best-effort bookkeeping call sites skip their
// work when it is nil.
type UserStore interface {
	Lookup(ctx context.Context, username string) (userstore.Account, error)
	ChargeOne(ctx context.Context, username string) (ok bool, remaining int, err error)
	TouchLastRequest(ctx context.Context, username string) error
	BumpDecryptSuccess(ctx context.Context, username string) error
	BumpUpstreamCounter(ctx context.Context, upstreamIndex int, kind string) error
	RecordDroneHistory(ctx context.Context, upstreamIndex int, userID int64, droneID string) error
}

// TokenAuth is the subset of the bearer-token issuer the gateway needs for
// login and token-based authentication.
type TokenAuth interface {
	Issue(ctx context.Context, username string) (string, error)
	ValidateToken(ctx context.Context, token string) (string, bool, error)
}

// Timing bundles the scheduling constants the gateway operates under.
// Defaults mirror the values recorded in the external-interfaces design.
type Timing struct {
	BusyTimeout         time.Duration // upstream BUSY duration after keygen_busy
	IdlePollInterval    time.Duration // spacing between idle-upstream re-polls
	IdlePollMaxAttempts int           // bounds the idle-upstream poll before AllServersBusy
	QueueWaitTimeout    time.Duration // caller-side bound on awaiting a queued result; must match the queue's task-slot TTL
	QueuePollInterval   time.Duration // spacing between task-slot polls
	DequeueIdleWait     time.Duration // worker backoff when the queue is empty
}

func (t Timing) withDefaults() Timing {
	if t.BusyTimeout <= 0 {
		t.BusyTimeout = 36 * time.Second
	}
	if t.IdlePollInterval <= 0 {
		t.IdlePollInterval = time.Second
	}
	if t.IdlePollMaxAttempts <= 0 {
		t.IdlePollMaxAttempts = 36
	}
	if t.QueueWaitTimeout <= 0 {
		t.QueueWaitTimeout = 300 * time.Second
	}
	if t.QueuePollInterval <= 0 {
		t.QueuePollInterval = 50 * time.Millisecond
	}
	if t.DequeueIdleWait <= 0 {
		t.DequeueIdleWait = 10 * time.Millisecond
	}
	return t
}

// Deps are the already-constructed components the Gateway orchestrates.
// Users may be nil in tests that never reach authentication; with a nil
// Users, authentication fails and best-effort bookkeeping is skipped.
type Deps struct {
	Registry       *registry.Registry
	Affinity       *affinity.Map
	Processing     *processing.Set
	Limiter        *ratelimiter.Limiter
	Upstream       UpstreamCaller
	Queue          TaskQueue
	Users          UserStore
	Auth           TokenAuth
	AESKey         string
	AESIV          string
	MaxConcurrency int
	WorkerCount    int
	Logger         *slog.Logger
}

// Gateway is the dispatcher: it runs the worker pool and answers front-end
// requests against the shared in-memory and external state.
type Gateway struct {
	registry   *registry.Registry
	affinity   *affinity.Map
	processing *processing.Set
	limiter    *ratelimiter.Limiter
	upstream   UpstreamCaller
	queue      TaskQueue
	users      UserStore
	auth       TokenAuth
	aesKey     string
	aesIV      string
	sema       chan struct{}
	workers    int
	timing     Timing
	logger     *slog.Logger
}

// RegistrySnapshots exposes the current upstream fleet state for reporting.
func (g *Gateway) RegistrySnapshots() []registry.Snapshot {
	return g.registry.All()
}

// AffinityStats reports the Affinity Map's current size and capacity.
func (g *Gateway) AffinityStats() (size, capacity int) {
	return g.affinity.Len(), g.affinity.Capacity()
}

// ProcessingStats reports the Processing Set's current size and capacity.
func (g *Gateway) ProcessingStats() (size, capacity int) {
	return g.processing.Len(), g.processing.Capacity()
}

// New builds a Gateway from its dependencies and timing configuration.
func New(d Deps, timing Timing) *Gateway {
	if d.MaxConcurrency <= 0 {
		d.MaxConcurrency = 200
	}
	if d.WorkerCount <= 0 {
		d.WorkerCount = 2
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Gateway{
		registry:   d.Registry,
		affinity:   d.Affinity,
		processing: d.Processing,
		limiter:    d.Limiter,
		upstream:   d.Upstream,
		queue:      d.Queue,
		users:      d.Users,
		auth:       d.Auth,
		aesKey:     d.AESKey,
		aesIV:      d.AESIV,
		sema:       make(chan struct{}, d.MaxConcurrency),
		workers:    d.WorkerCount,
		timing:     timing.withDefaults(),
		logger:     d.Logger,
	}
}

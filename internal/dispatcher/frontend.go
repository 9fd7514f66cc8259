package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cainiao1230/LoadBalance/internal/apierr"
	"github.com/cainiao1230/LoadBalance/internal/auth"
	"github.com/cainiao1230/LoadBalance/internal/classifier"
	"github.com/cainiao1230/LoadBalance/internal/queue"
	"github.com/cainiao1230/LoadBalance/internal/userstore"
)

// newTaskID derives a queue task id from the drone id plus a random suffix,
// so a stuck drone id never collides across concurrent key-packet arrivals.
func newTaskID(droneID string) string {
	return droneID + ":" + uuid.NewString()
}

// LoginResult is the shape of a successful /api/login response.
type LoginResult struct {
	Token  string
	Orders string
}

// DecryptOutcome is the shape of a /api/yd/decryptl response, regardless of
// which of the data-packet, key-packet, or queued paths produced it.
type DecryptOutcome struct {
	Msg  string
	SN   string
	Body json.RawMessage // full upstream passthrough body, set on a completed keygen/data call
}

// PersonDataResult is the shape of a /api/query/persondata response.
type PersonDataResult struct {
	VisitTimes string
}

// Authenticate resolves either a username+password pair or a bearer token to
// an account. Exactly one of (username, password) or token must be supplied
// by the caller; which one is the HTTP layer's concern.
func (g *Gateway) Authenticate(ctx context.Context, username, password, token string) (userstore.Account, error) {
	if g.users == nil {
		return userstore.Account{}, apierr.Internalf("user store unavailable")
	}

	resolvedUsername := username
	if token != "" {
		name, ok, err := g.auth.ValidateToken(ctx, token)
		if err != nil {
			return userstore.Account{}, apierr.Internalf("validate token")
		}
		if !ok {
			return userstore.Account{}, apierr.AuthFailf("invalid or expired token")
		}
		resolvedUsername = name
	}

	acct, err := g.users.Lookup(ctx, resolvedUsername)
	if errors.Is(err, userstore.ErrNotFound) {
		return userstore.Account{}, apierr.AuthFailf("unknown user")
	}
	if err != nil {
		return userstore.Account{}, apierr.Internalf("lookup account")
	}
	if acct.Status == "1" {
		return userstore.Account{}, apierr.AuthFailf("account disabled")
	}

	if token == "" {
		plain, err := auth.DecryptPassword(acct.PasswordCipher, g.aesKey, g.aesIV)
		if err != nil || plain != password {
			return userstore.Account{}, apierr.AuthFailf("bad credentials")
		}
	}

	return acct, nil
}

// Login issues a bearer token for a credential-checked account.
func (g *Gateway) Login(ctx context.Context, username, password string) (LoginResult, error) {
	acct, err := g.Authenticate(ctx, username, password, "")
	if err != nil {
		return LoginResult{}, err
	}

	token, err := g.auth.Issue(ctx, acct.UserName)
	if err != nil {
		return LoginResult{}, apierr.Internalf("issue token")
	}

	return LoginResult{Token: token, Orders: userstore.OrderSummary(acct)}, nil
}

// QueryPersonData reports an account's request quota usage. Unlike Login and
// HandleDecrypt it accepts only username+password, never a token.
func (g *Gateway) QueryPersonData(ctx context.Context, username, password string) (PersonDataResult, error) {
	acct, err := g.Authenticate(ctx, username, password, "")
	if err != nil {
		return PersonDataResult{}, err
	}
	if acct.TotalRequests == -1 {
		return PersonDataResult{VisitTimes: "unlimited"}, nil
	}
	return PersonDataResult{VisitTimes: userstore.OrderSummary(acct)}, nil
}

// HandleDecrypt runs one incoming frame through authentication, quota
// charging, classification, and either the data-packet or key-packet path.
func (g *Gateway) HandleDecrypt(ctx context.Context, hexData, username, password, token string) (DecryptOutcome, error) {
	acct, err := g.Authenticate(ctx, username, password, token)
	if err != nil {
		return DecryptOutcome{}, err
	}

	if acct.TotalRequests != -1 {
		ok, _, err := g.users.ChargeOne(ctx, acct.UserName)
		if err != nil {
			return DecryptOutcome{}, apierr.Internalf("charge quota")
		}
		if !ok {
			return DecryptOutcome{}, apierr.QuotaExceededf("request quota exhausted")
		}
	}

	pkt, err := classifier.ClassifyHex(hexData)
	if err != nil || pkt.Kind == classifier.Invalid {
		return DecryptOutcome{}, apierr.BadPacketf("useless packet")
	}

	if pkt.Kind == classifier.Data {
		return g.handleDataPacket(ctx, hexData, pkt, acct)
	}
	return g.handleKeyPacket(ctx, hexData, pkt, acct)
}

// handleDataPacket serves a data frame synchronously: the drone's key must
// already be affinitized to an upstream, so there is no queueing.
func (g *Gateway) handleDataPacket(ctx context.Context, hexData string, pkt classifier.Packet, acct userstore.Account) (DecryptOutcome, error) {
	entry, hit := g.affinity.Lookup(pkt.DroneID)
	if !hit {
		if _, busy := g.processing.Lookup(pkt.DroneID); busy {
			return DecryptOutcome{Msg: "key_gen_busy"}, nil
		}
		return DecryptOutcome{Msg: "no_key"}, nil
	}

	return g.callDataUpstream(ctx, entry.UpstreamIndex, hexData, acct)
}

func (g *Gateway) callDataUpstream(ctx context.Context, idx int, hexData string, acct userstore.Account) (DecryptOutcome, error) {
	result, err := g.upstream.CallDecrypt(ctx, idx, hexData)
	if err != nil {
		return DecryptOutcome{}, apierr.UpstreamFailf("decrypt call failed")
	}

	if g.users != nil {
		if err := g.users.TouchLastRequest(ctx, acct.UserName); err != nil {
			g.logger.Warn("touch last request failed", "error", err)
		}
		if err := g.users.BumpUpstreamCounter(ctx, idx, "request_total"); err != nil {
			g.logger.Warn("bump request_total failed", "error", err)
		}
	}

	body, err := json.Marshal(result.Raw)
	if err != nil {
		return DecryptOutcome{}, apierr.Internalf("marshal upstream body")
	}
	return DecryptOutcome{Msg: result.Msg, SN: result.SN, Body: body}, nil
}

// handleKeyPacket serves a key frame, which may require establishing key
// material on an upstream via the queue and worker pool.
func (g *Gateway) handleKeyPacket(ctx context.Context, hexData string, pkt classifier.Packet, acct userstore.Account) (DecryptOutcome, error) {
	if entry, hit := g.affinity.Lookup(pkt.DroneID); hit {
		g.processing.Remove(pkt.DroneID)
		return DecryptOutcome{Msg: "key_exist", SN: entry.SerialNumber}, nil
	}

	if _, busy := g.processing.Lookup(pkt.DroneID); busy {
		return DecryptOutcome{Msg: "key_gen_busy"}, nil
	}

	idx, ok, resolvedElsewhere := g.pickIdleUpstream(ctx, pkt.DroneID)
	if resolvedElsewhere {
		if entry, hit := g.affinity.Lookup(pkt.DroneID); hit {
			return DecryptOutcome{Msg: "key_exist", SN: entry.SerialNumber}, nil
		}
	}
	if !ok {
		return DecryptOutcome{}, apierr.AllServersBusyf("no idle upstream available")
	}

	if !g.processing.TryAdd(pkt.DroneID, idx) {
		return DecryptOutcome{Msg: "key_gen_busy"}, nil
	}

	var callerUpdateEpoch int64
	if !acct.PriorityUpdatedAt.IsZero() {
		callerUpdateEpoch = acct.PriorityUpdatedAt.Unix()
	}

	job := queue.Job{
		TaskID:              newTaskID(pkt.DroneID),
		Username:            acct.UserName,
		Priority:            acct.Priority,
		CallerUpdateEpoch:   callerUpdateEpoch,
		RawHex:              hexData,
		DroneID:             pkt.DroneID,
		TargetUpstreamIndex: idx,
	}

	if err := g.queue.Enqueue(ctx, job); err != nil {
		g.processing.Remove(pkt.DroneID)
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			return DecryptOutcome{}, apiErr
		}
		return DecryptOutcome{}, apierr.Internalf("enqueue job")
	}

	awaitCtx, cancel := context.WithTimeout(ctx, g.timing.QueueWaitTimeout)
	defer cancel()
	rec, err := g.queue.AwaitResult(awaitCtx, job.TaskID, g.timing.QueuePollInterval)
	if err != nil {
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			return DecryptOutcome{}, apiErr
		}
		return DecryptOutcome{}, apierr.Internalf("await result")
	}

	switch rec.Status {
	case queue.StatusCompleted:
		return DecryptOutcome{Body: rec.Data}, nil
	case queue.StatusFailed:
		return DecryptOutcome{}, apierr.UpstreamFailf("decrypt call failed")
	default:
		return DecryptOutcome{}, apierr.WaitTimeoutf("task did not complete")
	}
}

// pickIdleUpstream polls the registry for an idle upstream, re-checking the
// Affinity Map each tick so a key that resolves while we wait is returned
// immediately rather than spuriously re-dispatched.
func (g *Gateway) pickIdleUpstream(ctx context.Context, droneID string) (idx int, ok bool, resolvedElsewhere bool) {
	if idx, ok := g.registry.PickIdleRoundRobin(); ok {
		return idx, true, false
	}

	ticker := time.NewTicker(g.timing.IdlePollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < g.timing.IdlePollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return 0, false, false
		case <-ticker.C:
		}
		if _, hit := g.affinity.Lookup(droneID); hit {
			return 0, false, true
		}
		if idx, ok := g.registry.PickIdleRoundRobin(); ok {
			return idx, true, false
		}
	}
	return 0, false, false
}

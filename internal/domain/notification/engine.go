package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notifybridge/internal/common"
	"notifybridge/internal/metrics"
)

const idleLogInterval = 5 * time.Minute

// ReconcilerConfig wires one reconciliation instance.
type ReconcilerConfig struct {
	Params Params

	Source  Source
	Store   NotificationStore
	Channel ChannelSink
	Direct  DirectSink

	// Limiter optionally caps direct messages per recipient.
	Limiter RecipientRateLimiter

	Metrics *metrics.ReconcileMetrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Result summarizes one reconciliation tick.
type Result struct {
	Fetched   int
	Created   int
	Updated   int
	Touched   int
	Retired   int
	Scheduled int
	Delivered int
	Deferred  int
	Expired   int
	Failed    int
	Errors    int
}

// Changed reports whether the tick produced any outward or stored effect.
func (r Result) Changed() bool {
	return r.Created+r.Updated+r.Retired+r.Scheduled+r.Delivered+r.Expired+r.Failed+r.Errors > 0
}

// Reconciler runs one notification instance: it fetches a snapshot, plans
// against the stored records and executes the plan one entity at a time.
type Reconciler struct {
	params  Params
	source  Source
	store   NotificationStore
	channel ChannelSink
	direct  DirectSink
	limiter RecipientRateLimiter
	metrics *metrics.ReconcileMetrics
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	lastIdleLog time.Time
}

// NewReconciler validates the wiring and applies defaults.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	p := cfg.Params
	if !IsValidInstance(p.Instance) {
		return nil, fmt.Errorf("unknown instance %q", p.Instance)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("%s: source required", p.Instance)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: store required", p.Instance)
	}
	switch p.Mode {
	case ModeChannel:
		if cfg.Channel == nil {
			return nil, fmt.Errorf("%s: channel sink required", p.Instance)
		}
	case ModeDirect:
		if cfg.Direct == nil {
			return nil, fmt.Errorf("%s: direct sink required", p.Instance)
		}
	default:
		return nil, fmt.Errorf("%s: unknown mode %q", p.Instance, p.Mode)
	}

	if p.ActiveWindow <= 0 {
		p.ActiveWindow = time.Hour
	}
	if p.RetireGrace <= 0 {
		p.RetireGrace = 3 * time.Minute
	}
	if p.MaxLookback <= 0 {
		p.MaxLookback = 15 * time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{
		params:  p,
		source:  cfg.Source,
		store:   cfg.Store,
		channel: cfg.Channel,
		direct:  cfg.Direct,
		limiter: cfg.Limiter,
		metrics: cfg.Metrics,
		logger:  logger.With("instance", string(p.Instance)),
		now:     now,
	}, nil
}

// Name is the loop name the scheduler registers this reconciler under.
func (r *Reconciler) Name() string {
	return string(r.params.Instance)
}

// Run performs one tick; it satisfies the scheduler's job contract.
func (r *Reconciler) Run(ctx context.Context) error {
	_, err := r.Reconcile(ctx)
	return err
}

// Reconcile performs one full tick. A source failure aborts the tick
// without side effects; store and sink failures are isolated per entity.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	var res Result
	now := r.now()

	snapshot, err := r.source.Fetch(ctx)
	if err != nil {
		return res, fmt.Errorf("fetching %s: %w", r.source.Name(), err)
	}
	res.Fetched = len(snapshot)
	r.metrics.SetFetched(string(r.params.Instance), len(snapshot))

	if len(snapshot) == 0 {
		r.logIdle(now)
	}

	records := r.loadRecords(ctx, snapshot, now)
	actions := Plan(r.params, snapshot, records, now)

	for _, a := range actions {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		r.execute(ctx, a, now, &res)
	}

	if res.Changed() {
		r.logger.Info("reconcile complete",
			"fetched", res.Fetched,
			"created", res.Created,
			"updated", res.Updated,
			"retired", res.Retired,
			"scheduled", res.Scheduled,
			"delivered", res.Delivered,
			"expired", res.Expired,
			"failed", res.Failed,
			"errors", res.Errors,
		)
	} else {
		r.logger.Debug("reconcile complete", "fetched", res.Fetched)
	}
	return res, nil
}

// loadRecords returns the prior state keyed by external id: the active set
// plus a point lookup for snapshot ids that fell outside the window.
func (r *Reconciler) loadRecords(ctx context.Context, snapshot []Entity, now time.Time) map[string]*Record {
	records := make(map[string]*Record)

	active, err := r.store.Query(ctx, r.params.Instance, Filter{
		Field: FieldUpdatedAt,
		Op:    OpGTE,
		Value: now.Add(-r.params.ActiveWindow),
	})
	if err != nil {
		r.logger.Warn("loading active records failed, continuing with empty state", "error", err)
		return records
	}
	for _, rec := range active {
		records[rec.ExternalID] = rec
	}

	for _, e := range snapshot {
		if _, ok := records[e.ExternalID]; ok || e.ExternalID == "" {
			continue
		}
		rec, err := r.store.Get(ctx, r.params.Instance, e.ExternalID)
		if err != nil {
			r.logger.Warn("record lookup failed", "external_id", e.ExternalID, "error", err)
			continue
		}
		if rec != nil {
			records[e.ExternalID] = rec
		}
	}
	return records
}

func (r *Reconciler) execute(ctx context.Context, a Action, now time.Time, res *Result) {
	var outcome string
	switch a.Kind {
	case ActionCreate:
		outcome = r.create(ctx, a, now, res)
	case ActionUpdate:
		outcome = r.update(ctx, a, now, res)
	case ActionTouch:
		outcome = r.touch(ctx, a, now, res)
	case ActionRetire:
		outcome = r.retire(ctx, a, res)
	case ActionSchedule:
		outcome = r.schedule(ctx, a, now, res)
	case ActionDeliver:
		outcome = r.deliver(ctx, a, now, res)
	case ActionExpire:
		outcome = r.expire(ctx, a, res)
	default:
		return
	}
	r.metrics.IncAction(string(r.params.Instance), string(a.Kind), outcome)
}

func (r *Reconciler) create(ctx context.Context, a Action, now time.Time, res *Result) string {
	handle, err := r.channel.Create(ctx, a.Entity.Payload)
	if err != nil {
		return r.sinkFailure(ctx, a, now, err, res)
	}

	rec := r.newRecord(a, now)
	rec.Status = StatusNotified
	rec.NotifiedAt = timePtr(now)
	rec.LastSeenAt = timePtr(now)
	rec.OutwardHandle = handle
	res.Created++

	if err := r.store.Upsert(ctx, rec); err != nil {
		r.logger.Error("message posted but record not saved",
			"external_id", a.ExternalID,
			"handle", handle,
			"error", err,
		)
		res.Errors++
		return "store_error"
	}
	r.logger.Info("notification created", "external_id", a.ExternalID, "handle", handle)
	return "success"
}

func (r *Reconciler) update(ctx context.Context, a Action, now time.Time, res *Result) string {
	err := r.channel.Update(ctx, a.Record.OutwardHandle, a.Entity.Payload)
	if errors.Is(err, common.ErrSinkNotFound) {
		// The message is gone; dropping the record lets the next tick post a fresh one.
		r.logger.Warn("message missing on update, record dropped",
			"external_id", a.ExternalID,
			"handle", a.Record.OutwardHandle,
		)
		if err := r.store.Delete(ctx, r.params.Instance, a.ExternalID); err != nil {
			r.logger.Error("deleting orphaned record failed", "external_id", a.ExternalID, "error", err)
			res.Errors++
			return "store_error"
		}
		return "not_found"
	}
	if err != nil {
		r.logger.Error("message update failed", "external_id", a.ExternalID, "error", err)
		res.Errors++
		return "error"
	}

	rec := *a.Record
	rec.Status = StatusUpdated
	rec.LastUpdatedAt = timePtr(now)
	rec.LastSeenAt = timePtr(now)
	rec.Fingerprint = a.Entity.Payload.Fingerprint()
	res.Updated++

	if err := r.store.Upsert(ctx, &rec); err != nil {
		r.logger.Error("message updated but record not saved", "external_id", a.ExternalID, "error", err)
		res.Errors++
		return "store_error"
	}
	r.logger.Info("notification updated", "external_id", a.ExternalID, "handle", rec.OutwardHandle)
	return "success"
}

func (r *Reconciler) touch(ctx context.Context, a Action, now time.Time, res *Result) string {
	rec := *a.Record
	rec.LastSeenAt = timePtr(now)
	if err := r.store.Upsert(ctx, &rec); err != nil {
		r.logger.Warn("refreshing last seen failed", "external_id", a.ExternalID, "error", err)
		res.Errors++
		return "store_error"
	}
	res.Touched++
	return "success"
}

func (r *Reconciler) retire(ctx context.Context, a Action, res *Result) string {
	err := r.channel.Retire(ctx, a.Record.OutwardHandle)
	if err != nil && !errors.Is(err, common.ErrSinkNotFound) {
		r.logger.Error("message retire failed", "external_id", a.ExternalID, "error", err)
		res.Errors++
		return "error"
	}
	res.Retired++

	if err := r.store.Delete(ctx, r.params.Instance, a.ExternalID); err != nil {
		r.logger.Error("message retired but record not deleted", "external_id", a.ExternalID, "error", err)
		res.Errors++
		return "store_error"
	}
	r.logger.Info("notification retired", "external_id", a.ExternalID, "handle", a.Record.OutwardHandle)
	return "success"
}

func (r *Reconciler) schedule(ctx context.Context, a Action, now time.Time, res *Result) string {
	rec := r.newRecord(a, now)
	rec.Status = StatusPending
	if err := r.store.Upsert(ctx, rec); err != nil {
		r.logger.Error("scheduling reminder failed", "external_id", a.ExternalID, "error", err)
		res.Errors++
		return "store_error"
	}
	res.Scheduled++
	r.logger.Debug("reminder scheduled", "external_id", a.ExternalID, "due_at", rec.DueAt)
	return "success"
}

func (r *Reconciler) deliver(ctx context.Context, a Action, now time.Time, res *Result) string {
	rem := a.Entity.Payload.(*Reminder)

	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, rem.UserID)
		if err != nil {
			// Fail open when the limiter backend is down.
			r.logger.Warn("recipient rate limit check failed, proceeding", "user_id", rem.UserID, "error", err)
		} else if !allowed {
			r.logger.Info("reminder deferred by rate limit", "external_id", a.ExternalID, "user_id", rem.UserID)
			res.Deferred++
			if a.Record == nil {
				r.schedule(ctx, a, now, res)
			}
			return "deferred"
		}
	}

	if err := r.direct.Deliver(ctx, rem.UserID, a.Entity.Payload); err != nil {
		return r.sinkFailure(ctx, a, now, err, res)
	}
	if r.limiter != nil {
		if err := r.limiter.Record(ctx, rem.UserID); err != nil {
			r.logger.Warn("recording recipient rate limit failed", "user_id", rem.UserID, "error", err)
		}
	}

	rec := r.newRecord(a, now)
	rec.Status = StatusSent
	rec.NotifiedAt = timePtr(now)
	res.Delivered++

	if err := r.store.Upsert(ctx, rec); err != nil {
		r.logger.Error("reminder sent but record not saved",
			"external_id", a.ExternalID,
			"user_id", rem.UserID,
			"error", err,
		)
		res.Errors++
		return "store_error"
	}
	r.logger.Info("reminder sent", "external_id", a.ExternalID, "user_id", rem.UserID)
	return "success"
}

func (r *Reconciler) expire(ctx context.Context, a Action, res *Result) string {
	if err := r.store.Delete(ctx, r.params.Instance, a.ExternalID); err != nil {
		r.logger.Error("expiring reminder failed", "external_id", a.ExternalID, "error", err)
		res.Errors++
		return "store_error"
	}
	res.Expired++
	r.logger.Info("reminder expired unsent", "external_id", a.ExternalID)
	return "success"
}

// sinkFailure records permanent delivery failures and leaves transient ones
// for the next tick.
func (r *Reconciler) sinkFailure(ctx context.Context, a Action, now time.Time, err error, res *Result) string {
	if !common.IsPermanentDelivery(err) {
		r.logger.Error("delivery failed, will retry next tick",
			"action", string(a.Kind),
			"external_id", a.ExternalID,
			"error", err,
		)
		res.Errors++
		return "error"
	}

	rec := r.newRecord(a, now)
	rec.Status = StatusFailed
	rec.ErrorMessage = err.Error()
	res.Failed++

	r.logger.Warn("delivery rejected permanently",
		"action", string(a.Kind),
		"external_id", a.ExternalID,
		"error", err,
	)
	if err := r.store.Upsert(ctx, rec); err != nil {
		r.logger.Error("saving failed record failed", "external_id", a.ExternalID, "error", err)
		res.Errors++
		return "store_error"
	}
	return "failed"
}

func (r *Reconciler) newRecord(a Action, now time.Time) *Record {
	rec := &Record{
		Instance:        r.params.Instance,
		ExternalID:      a.ExternalID,
		Fingerprint:     a.Entity.Payload.Fingerprint(),
		SourceCreatedAt: a.Entity.CreatedAt,
		CreatedAt:       now,
	}
	if a.Record != nil {
		rec.CreatedAt = a.Record.CreatedAt
	}
	if rem, ok := a.Entity.Payload.(*Reminder); ok {
		rec.RecipientID = rem.UserID
		rec.DueAt = timePtr(rem.ReminderTime())
	}
	return rec
}

func (r *Reconciler) logIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastIdleLog) < idleLogInterval {
		return
	}
	r.lastIdleLog = now
	r.logger.Info("no entities in snapshot", "source", r.source.Name())
}

package reactor

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/daemons"
	"github.com/kubereactor/kreactor/diff"
	"github.com/kubereactor/kreactor/finalizers"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/registry"
	"github.com/kubereactor/kreactor/states"
)

// errObjectGone tells the worker to drop the object's memory and exit; it
// never reaches the throttler.
var errObjectGone = errors.New("the object is gone")

// processEvent runs one full reaction cycle for one event: essence and diff
// computation, cause classification, daemon lifecycle reconciliation,
// finalizer management, the handler cycle itself, and the final single
// patch with an optional sleep.
func (r *Reactor) processEvent(ctx context.Context, mem *memory, ev client.RawEvent) error {
	ctx, span, spanLog := r.instr.Start(ctx, "ProcessEvent")
	defer span.End()

	body := ev.Object
	mem.setBody(body)
	logger := spanLog.WithValues(
		"resource", mem.resource.Resource,
		"namespace", object.Namespace(body),
		"name", object.Name(body),
	)
	now := r.clock.Now()

	oldEssence, err := r.diffbase.FetchEssence(body)
	if err != nil {
		return errors.Wrap(err, "failed to fetch the last-handled essence")
	}
	prefixes := append(r.store.Prefixes(), r.diffbase.Prefixes()...)
	newEssence := r.store.Clear(diff.NewEssence(body, r.registry.ExtraFields(mem.resource), prefixes))
	d := diff.Compare(oldEssence, newEssence)
	if !d.Empty() {
		mem.bumpIdle(now)
	}

	reason, initial := cause.Detect(cause.DetectInput{
		EventType:        ev.Type,
		Body:             body,
		Finalizer:        r.finalizer,
		OldEssence:       oldEssence,
		Diff:             d,
		NoticedByListing: mem.isNoticedByListing(),
		FullyHandledOnce: mem.isFullyHandledOnce(),
	})

	env := r.daemonEnv(mem, logger)

	if reason == cause.Gone {
		logger.V(1).Info("the object is gone; stopping its daemons and forgetting it")
		r.waitDaemonsGone(ctx, env)
		return errObjectGone
	}

	// Daemon lifecycle first: deletion stops everything, otherwise the live
	// set is reconciled against the currently-matching handlers.
	deleting := finalizers.HasDeletionTimestamp(body)
	var daemonDelay time.Duration
	daemonPending := false
	if deleting {
		daemonDelay, daemonPending = r.daemons.StopDaemons(env, daemons.StopReasonResourceDeleted)
	} else {
		matching := r.registry.ResolveSpawning(mem.resource, body)
		daemonDelay, daemonPending = r.daemons.StopMismatched(env, matching)
		r.daemons.Spawn(r.runContext(), env, mem.spawnable(matching))
	}

	if reason == cause.Free {
		// Released from our finalizer and marked for deletion: some other
		// finalizer may still hold it, but we are done with it.
		mem.setFullyHandledOnce()
		return nil
	}

	patch := object.NewPatch()

	requires := r.registry.RequiresFinalizer(mem.resource, body)
	blocked := finalizers.IsPresent(body, r.finalizer)
	if !deleting && requires && !blocked {
		// Attach the finalizer before anything else runs: if the object is
		// deleted mid-cycle, the deletion handlers must still get their
		// chance. The patch triggers the next cycle immediately.
		logger.V(1).Info("adding the finalizer to block premature deletion")
		finalizers.Block(body, r.finalizer, patch)
		return r.applier.Apply(ctx, mem.resource, body, patch, 0, false, mem.wakeup)
	}
	if !deleting && !requires && blocked {
		// No mandatory deletion handler matches anymore; stop holding the
		// object hostage. Sent along with the cycle's patch below.
		finalizers.Allow(body, r.finalizer, patch)
	}

	rc := &cause.ResourceCause{
		Reason:     reason,
		Resource:   mem.resource,
		Body:       body,
		OldEssence: oldEssence,
		NewEssence: newEssence,
		Diff:       d,
		Patch:      patch,
		Logger:     logger,
		Memo:       mem.memo,
		Initial:    initial,
	}
	handlers := r.registry.Resolve(rc)
	cycle, err := states.Restore(handlerIDs(handlers), body, r.store, now)
	if err != nil {
		return errors.Wrap(err, "failed to restore the handler states")
	}
	if err := r.executor.RunCycle(ctx, handlers, rc, cycle); err != nil {
		return err
	}

	now = r.clock.Now()
	var delay time.Duration
	hasDelay := false
	if cycle.Done() {
		if err := cycle.Purge(body, r.store, patch); err != nil {
			return errors.Wrap(err, "failed to purge the handler states")
		}
		mem.setFullyHandledOnce()
		switch reason {
		case cause.Delete:
			if !daemonPending {
				logger.V(1).Info("removing the finalizer: deletion is no longer blocked")
				finalizers.Allow(body, r.finalizer, patch)
			}
		case cause.Create, cause.Update:
			if err := r.diffbase.StoreEssence(newEssence, body, patch); err != nil {
				return errors.Wrap(err, "failed to store the last-handled essence")
			}
		}
	} else {
		if err := cycle.Persist(body, r.store, patch); err != nil {
			return errors.Wrap(err, "failed to persist the handler states")
		}
		delay, hasDelay = cycle.Delay(now)
	}

	// Still-stopping daemons need a re-check even with no handler delays;
	// the sooner of the two wake-ups wins.
	if daemonPending && (!hasDelay || daemonDelay < delay) {
		delay = daemonDelay
		hasDelay = true
	}

	return r.applier.Apply(ctx, mem.resource, body, patch, delay, hasDelay, mem.wakeup)
}

// daemonEnv builds the per-object hooks the daemon manager calls back into.
func (r *Reactor) daemonEnv(mem *memory, logger logr.Logger) daemons.Env {
	return daemons.Env{
		Resource: mem.resource,
		UID:      mem.uid,
		Body:     mem.getBody,
		ApplyPatch: func(ctx context.Context, patch *object.Patch) error {
			return r.applier.Apply(ctx, mem.resource, mem.getBody(), patch, 0, false, mem.wakeup)
		},
		IdleAnchor:          mem.idleAnchor,
		MarkForeverStopped:  mem.markForever,
		ClearForeverStopped: mem.clearForever,
		Memo:                mem.memo,
		Logger:              logger,
	}
}

// waitDaemonsGone drives the stop escalation of a deleted object's daemons
// to completion. There is no object left to patch or re-watch, so this is
// the one place the stop sequence is waited out in place.
func (r *Reactor) waitDaemonsGone(ctx context.Context, env daemons.Env) {
	for {
		delay, pending := r.daemons.StopDaemons(env, daemons.StopReasonResourceDeleted)
		if !pending {
			return
		}
		if delay <= 0 {
			delay = time.Second
		}
		timer := r.clock.NewTimer(delay)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func handlerIDs(handlers []*registry.Handler) []string {
	ids := make([]string, 0, len(handlers))
	for _, h := range handlers {
		ids = append(ids, h.ID)
	}
	return ids
}

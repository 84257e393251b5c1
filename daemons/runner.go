package daemons

import (
	"context"
	"time"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/handling"
	"github.com/kubereactor/kreactor/object"
	"github.com/kubereactor/kreactor/states"
)

// sharpEpoch anchors the grid of "sharp" interval timers: firings align to
// multiples of the interval from a stable epoch, not to when the previous
// firing finished.
var sharpEpoch = time.Unix(0, 0).UTC()

// runDaemon hosts a continuously-running daemon: the callback is expected
// to run for as long as the object lives, and is re-invoked through the
// regular retry state machine when it errors out.
func (m *Manager) runDaemon(ctx context.Context, d *Daemon, env Env) {
	h := d.handler

	if h.InitialDelay != nil {
		if stopped := m.sleep(ctx, d, *h.InitialDelay); stopped {
			return
		}
	}

	state := states.NewFromScratch(m.clock.Now())
	for {
		outcome, err := m.fireOnce(ctx, d, env, state)
		if err != nil {
			return
		}
		state = state.WithOutcome(outcome, m.clock.Now())
		if err := m.persist(ctx, env, h.ID, state); err != nil {
			d.logger.Error(err, "failed to persist the daemon state")
		}
		if state.Finished() {
			m.purge(ctx, env, h.ID)
			return
		}
		if stopped := m.sleepUntilDue(ctx, d, state); stopped {
			return
		}
	}
}

// runTimer hosts a repeatedly-firing timer: each firing is a full handler
// episode (with retries), paced by an interval, gated by an idle threshold,
// or both. With neither, it degenerates to a one-shot handler.
func (m *Manager) runTimer(ctx context.Context, d *Daemon, env Env) {
	h := d.handler

	if h.InitialDelay != nil {
		if stopped := m.sleep(ctx, d, *h.InitialDelay); stopped {
			return
		}
	}

	for !d.stopper.IsSet() && ctx.Err() == nil {
		// Idle gating: fire only after no essential change has been
		// observed for the configured time. The anchor is bumped by the
		// orchestrator on every essential diff, so this loop re-waits.
		if h.Idle != nil {
			for {
				remaining := *h.Idle - m.clock.Now().Sub(env.IdleAnchor())
				if remaining <= 0 {
					break
				}
				if stopped := m.sleep(ctx, d, remaining); stopped {
					return
				}
			}
		}

		state := states.NewFromScratch(m.clock.Now())
		for !state.Finished() {
			outcome, err := m.fireOnce(ctx, d, env, state)
			if err != nil {
				return
			}
			state = state.WithOutcome(outcome, m.clock.Now())
			if err := m.persist(ctx, env, h.ID, state); err != nil {
				d.logger.Error(err, "failed to persist the timer state")
			}
			if state.Finished() {
				break
			}
			if stopped := m.sleepUntilDue(ctx, d, state); stopped {
				return
			}
		}
		m.purge(ctx, env, h.ID)

		if h.Interval == nil && h.Idle == nil {
			return
		}
		if h.Interval != nil {
			finished := m.clock.Now()
			var next time.Time
			if h.Sharp {
				// Align to the fixed grid from the epoch.
				elapsed := finished.Sub(sharpEpoch)
				steps := elapsed/(*h.Interval) + 1
				next = sharpEpoch.Add(steps * (*h.Interval))
			} else {
				next = finished.Add(*h.Interval)
			}
			if stopped := m.sleep(ctx, d, next.Sub(m.clock.Now())); stopped {
				return
			}
		}
	}
}

// fireOnce performs one invocation attempt of the daemon's handler, with
// the stop channel exposed to the callback. The returned error is non-nil
// only for cancellation.
func (m *Manager) fireOnce(ctx context.Context, d *Daemon, env Env, state *states.State) (handling.Outcome, error) {
	c := &cause.ResourceCause{
		Resource: env.Resource,
		Body:     env.Body(),
		Patch:    object.NewPatch(),
		Logger:   d.logger,
		Memo:     env.Memo,
	}
	outcome, err := m.executor.InvokeWithStop(ctx, d.handler, c, state, d.stopper.Done())
	if err != nil {
		return handling.Outcome{}, err
	}
	// User changes accumulated during the iteration are applied right
	// away, together with the state below.
	if !c.Patch.IsEmpty() {
		if perr := env.ApplyPatch(ctx, c.Patch); perr != nil {
			d.logger.Error(perr, "failed to apply the daemon iteration patch")
		}
	}
	return outcome, nil
}

// persist stores the handler state and patches the object immediately,
// unlike regular handlers which batch all writes into one per cycle.
func (m *Manager) persist(ctx context.Context, env Env, id string, state *states.State) error {
	patch := object.NewPatch()
	if err := m.store.Store(id, state.Record(), env.Body(), patch); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}
	return env.ApplyPatch(ctx, patch)
}

// purge drops the persisted state once a firing episode is complete.
func (m *Manager) purge(ctx context.Context, env Env, id string) {
	patch := object.NewPatch()
	if err := m.store.Purge(id, env.Body(), patch); err != nil {
		return
	}
	if patch.IsEmpty() {
		return
	}
	if err := env.ApplyPatch(ctx, patch); err != nil {
		env.Logger.Error(err, "failed to purge the daemon state", "daemon", id)
	}
}

// sleep pauses for the duration, returning true when interrupted by a stop
// request or cancellation.
func (m *Manager) sleep(ctx context.Context, d *Daemon, duration time.Duration) bool {
	if duration <= 0 {
		return d.stopper.IsSet() || ctx.Err() != nil
	}
	timer := m.clock.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C():
		return false
	case <-d.stopper.Done():
		return true
	case <-ctx.Done():
		return true
	}
}

// sleepUntilDue waits out a retry delay scheduled by the state machine. No
// scheduled delay means an immediate retry.
func (m *Manager) sleepUntilDue(ctx context.Context, d *Daemon, state *states.State) bool {
	if state.Delayed == nil {
		return d.stopper.IsSet() || ctx.Err() != nil
	}
	return m.sleep(ctx, d, state.Delayed.Sub(m.clock.Now()))
}

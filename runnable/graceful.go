// Package runnable runs the long-lived components of an operator process as
// one group: all start together, the first failure or a cancelled context
// stops the rest, and components with an explicit stop call get it on the
// way out, in reverse start order.
package runnable

import (
	"context"

	"github.com/go-logr/logr"
	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
)

var log = ctrl.Log.WithName("runnable")

// RunCall starts a component and blocks until it stops or the context is
// cancelled.
type RunCall func(context.Context) error

// StopCall releases whatever the run call does not release by itself on
// cancellation: flushing exporters, departing from a peering, and the like.
type StopCall func() error

// Graceful pairs a blocking run call with an optional explicit stop call.
type Graceful struct {
	run  RunCall
	stop StopCall
	log  logr.Logger
}

// NewGraceful creates a graceful runnable. The stop call and the logger may
// be nil.
func NewGraceful(run RunCall, stop StopCall, logger logr.Logger) *Graceful {
	if logger == nil {
		logger = log
	}
	return &Graceful{run: run, stop: stop, log: logger}
}

// Start runs the component and performs its stop call once the run returns.
func (g *Graceful) Start(ctx context.Context) error {
	err := g.run(ctx)
	if serr := g.doStop(); serr != nil {
		err = multierror.Append(err, serr).ErrorOrNil()
	}
	return err
}

func (g *Graceful) doStop() error {
	if g.stop == nil {
		return nil
	}
	g.log.Info("stopping gracefully")
	return g.stop()
}

// Group runs several graceful runnables as one unit.
type Group struct {
	log   logr.Logger
	tasks []*Graceful
}

// NewGroup creates an empty group. The logger may be nil.
func NewGroup(logger logr.Logger) *Group {
	if logger == nil {
		logger = log
	}
	return &Group{log: logger}
}

// Add appends runnables to the group, in start order.
func (g *Group) Add(tasks ...*Graceful) {
	g.tasks = append(g.tasks, tasks...)
}

// Run starts every runnable and blocks until all of them return. The first
// failure cancels the shared context; the stop calls then run in reverse
// start order, and their errors aggregate into the result.
func (g *Group) Run(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)
	for _, t := range g.tasks {
		t := t
		eg.Go(func() error { return t.run(egctx) })
	}
	err := eg.Wait()

	var failures error
	if err != nil && err != context.Canceled {
		failures = multierror.Append(failures, err)
	}
	for i := len(g.tasks) - 1; i >= 0; i-- {
		if serr := g.tasks[i].doStop(); serr != nil {
			g.log.Error(serr, "a component failed to stop gracefully")
			failures = multierror.Append(failures, serr)
		}
	}
	if merr, ok := failures.(*multierror.Error); ok {
		return merr.ErrorOrNil()
	}
	return failures
}

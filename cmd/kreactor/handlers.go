package main

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubereactor/kreactor/cause"
	"github.com/kubereactor/kreactor/registry"
)

// registerEchoHandlers fills the registry with the reference handlers: one
// per creation, update and deletion, each merely logging the cause. The
// deletion handler is optional, so the echo operator never attaches a
// finalizer and never delays anyone's deletions.
func registerEchoHandlers(reg *registry.Registry, gvr schema.GroupVersionResource) error {
	echo := func(msg string) registry.Callback {
		return func(ctx context.Context, req registry.Request) (interface{}, error) {
			req.Logger.Info(msg, "diff", len(req.Diff))
			return nil, nil
		}
	}

	creation := cause.Create
	update := cause.Update
	deletion := cause.Delete

	handlers := []*registry.Handler{
		{ID: "echo-create", Reason: &creation, Fn: echo("object created")},
		{ID: "echo-update", Reason: &update, Fn: echo("object updated")},
		{ID: "echo-delete", Reason: &deletion, Optional: true, Fn: echo("object deleted")},
	}
	for _, h := range handlers {
		if err := reg.RegisterChanging(gvr, h); err != nil {
			return err
		}
	}
	return nil
}

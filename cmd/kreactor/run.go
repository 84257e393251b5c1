package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	ctrl "sigs.k8s.io/controller-runtime"

	kclient "github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/peering"
	"github.com/kubereactor/kreactor/reactor"
	"github.com/kubereactor/kreactor/registry"
	"github.com/kubereactor/kreactor/runnable"
	"github.com/kubereactor/kreactor/telemetry/export"
)

func newRunCommand() *cobra.Command {
	var (
		namespace   string
		standalone  bool
		peeringName string
		priority    int
		group       string
		version     string
		resource    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reference echo operator until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			shutdown, err := export.Setup("kreactor")
			if err != nil {
				return errors.Wrap(err, "failed to set up tracing")
			}

			cfg, err := ctrl.GetConfig()
			if err != nil {
				return errors.Wrap(err, "failed to load the kube config")
			}
			dyn, err := dynamic.NewForConfig(cfg)
			if err != nil {
				return errors.Wrap(err, "failed to create the dynamic client")
			}
			kube := kclient.NewDynamic(dyn)

			reg := registry.New()
			gvr := schema.GroupVersionResource{Group: group, Version: version, Resource: resource}
			if err := registerEchoHandlers(reg, gvr); err != nil {
				return err
			}

			opts := []reactor.Option{reactor.WithNamespace(namespace)}
			if !standalone {
				monitor, merr := peering.NewMonitor(kube,
					peering.WithPriority(priority),
					peering.WithPeering(namespace, peeringName),
				)
				if merr != nil {
					return merr
				}
				opts = append(opts, reactor.WithMonitor(monitor))
			}

			r, err := reactor.New(reg, kube, kube, opts...)
			if err != nil {
				return err
			}

			setupLog.Info("starting the operator",
				"resource", gvr.String(), "namespace", namespace, "standalone", standalone)

			g := runnable.NewGroup(setupLog)
			g.Add(runnable.NewGraceful(r.Run, func() error { shutdown(); return nil }, setupLog))
			return g.Run(ctrl.SetupSignalHandler())
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace to watch; empty for cluster-wide")
	cmd.Flags().BoolVar(&standalone, "standalone", false, "run without peering")
	cmd.Flags().StringVarP(&peeringName, "peering", "P", peering.DefaultName, "name of the peering object")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "peering priority of this instance")
	cmd.Flags().StringVar(&group, "group", "", "API group of the watched resource")
	cmd.Flags().StringVar(&version, "version", "v1", "API version of the watched resource")
	cmd.Flags().StringVar(&resource, "resource", "configmaps", "plural resource name to watch")
	return cmd
}

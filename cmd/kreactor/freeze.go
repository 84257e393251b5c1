package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/client-go/dynamic"
	ctrl "sigs.k8s.io/controller-runtime"

	kclient "github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/peering"
)

func newFreezeCommand() *cobra.Command {
	var (
		namespace   string
		peeringName string
		id          string
		priority    int
		lifetime    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "freeze",
		Short: "Pause the running operators by registering a higher-priority peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctrl.GetConfig()
			if err != nil {
				return errors.Wrap(err, "failed to load the kube config")
			}
			dyn, err := dynamic.NewForConfig(cfg)
			if err != nil {
				return errors.Wrap(err, "failed to create the dynamic client")
			}
			kube := kclient.NewDynamic(dyn)

			if id == "" {
				id = "freezer-" + uuid.New().String()
			}
			resource := peering.ClusterResource
			if namespace != "" {
				resource = peering.NamespacedResource
			}
			ctx := cmd.Context()
			if err := peering.Freeze(ctx, kube, resource, namespace, peeringName, id, priority, lifetime); err != nil {
				return err
			}
			setupLog.Info("froze the operators", "id", id, "lifetime", lifetime)
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace of the peering object; empty for cluster-scoped")
	cmd.Flags().StringVarP(&peeringName, "peering", "P", peering.DefaultName, "name of the peering object")
	cmd.Flags().StringVarP(&id, "id", "i", "", "identity of the freezing peer; generated when empty")
	cmd.Flags().IntVarP(&priority, "priority", "p", 100, "priority of the freezing peer")
	cmd.Flags().DurationVarP(&lifetime, "lifetime", "t", peering.DefaultLifetime, "how long the freeze lasts without renewal")
	return cmd
}

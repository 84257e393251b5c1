package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/client-go/dynamic"
	ctrl "sigs.k8s.io/controller-runtime"

	kclient "github.com/kubereactor/kreactor/client"
	"github.com/kubereactor/kreactor/peering"
)

func newResumeCommand() *cobra.Command {
	var (
		namespace   string
		peeringName string
		id          string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Unpause the operators by removing a freezing peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("the id of the freezing peer is required")
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

			resource := peering.ClusterResource
			if namespace != "" {
				resource = peering.NamespacedResource
			}
			if err := peering.Resume(cmd.Context(), kube, resource, namespace, peeringName, id); err != nil {
				return err
			}
			setupLog.Info("resumed the operators", "id", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace of the peering object; empty for cluster-scoped")
	cmd.Flags().StringVarP(&peeringName, "peering", "P", peering.DefaultName, "name of the peering object")
	cmd.Flags().StringVarP(&id, "id", "i", "", "identity of the freezing peer to remove")
	return cmd
}

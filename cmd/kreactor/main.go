// Command kreactor is the operator CLI: "run" starts the reference echo
// operator, "freeze" and "resume" pause and unpause running operators
// through the shared peering object.
package main

import (
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	// Load all client auth plugins (GCP, Azure, OIDC, exec) so that any
	// kubeconfig works.
	_ "k8s.io/client-go/plugin/pkg/client/auth"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dev bool

	root := &cobra.Command{
		Use:           "kreactor",
		Short:         "A reactive Kubernetes operator runtime",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctrl.SetLogger(zap.New(zap.UseDevMode(dev)))
		},
	}
	root.PersistentFlags().BoolVar(&dev, "dev", false, "enable development-mode logging")

	root.AddCommand(newRunCommand())
	root.AddCommand(newFreezeCommand())
	root.AddCommand(newResumeCommand())
	return root
}

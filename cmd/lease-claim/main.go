package main

import (
	"os"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/telekom/k8s-lease-claim/pkg/cli"
)

func main() {
	ctx := ctrl.SetupSignalHandler()
	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand returns the lease-claim command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "lease-claim",
		Short: "Claim a Kubernetes Lease and run a job while holding it",
		// Errors are printed by cobra; usage only helps for flag errors.
		SilenceUsage: true,
	}

	root.AddCommand(
		NewRunCommand(),
		NewVersionCommand(),
	)
	return root
}

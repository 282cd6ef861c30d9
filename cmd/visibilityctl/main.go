// Package main is visibilityctl, the operator CLI for visibility rule documents.
//
// It evaluates a rule file against a synthetic request without any running
// service, lists the reason catalogue and hashes control plane API keys.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Build information. Populated at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "visibilityctl",
		Short: "Inspect and test page visibility rules",
		Long: `visibilityctl works with the rule documents served by the visibility
data plane.

Commands:
  eval        Evaluate a YAML or JSON rule file against request headers
  reasons     Print every reason code with its user-facing message
  hash-key    Print the SHA-256 hash expected in VISIBILITY_SERVER_CONTROL_API_KEY_HASH
  version     Print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(
		newEvalCmd(),
		newReasonsCmd(),
		newHashKeyCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "visibilityctl %s (%s)\n", Version, Commit)
		},
	}
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hostuk/visibility/internal/targeting"
)

func newReasonsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reasons",
		Short: "Print every reason code with its user-facing message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REASON\tMESSAGE")
			for _, code := range targeting.Reasons() {
				fmt.Fprintf(tw, "%s\t%s\n", code, targeting.Message(code))
			}
			return tw.Flush()
		},
	}
}

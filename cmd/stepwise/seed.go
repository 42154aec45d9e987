package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/stepwise/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the sample workflow definitions",
	Long:  "Create and activate the bundled sample definitions. Definitions whose name already exists are skipped.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := seed.Load(cmd.Context(), a.engine, a.logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "created: %s\n", listOrNone(res.Created))
		fmt.Fprintf(out, "skipped: %s\n", listOrNone(res.Skipped))
		return nil
	},
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

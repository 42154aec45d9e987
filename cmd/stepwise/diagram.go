package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/stepwise/internal/diagram"
	"github.com/rendis/stepwise/internal/store"
)

var diagramCmd = &cobra.Command{
	Use:   "diagram <definition-id>",
	Short: "Render a definition as Mermaid text or a PNG image",
	Long: `Render a definition as a Mermaid flowchart (default) or, with --format png,
as an image written to --output. With --execution the steps are colored by
that execution's step records.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		executionID, _ := cmd.Flags().GetString("execution")
		if format != "mermaid" && format != "png" {
			return fmt.Errorf("unknown format %q (want mermaid or png)", format)
		}
		if format == "png" && output == "" {
			return fmt.Errorf("--output is required for png")
		}

		a, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		def, err := a.engine.GetDefinition(ctx, args[0])
		if err != nil {
			return err
		}
		var steps []*store.StepExecution
		if executionID != "" {
			if steps, err = a.engine.Steps(ctx, executionID); err != nil {
				return err
			}
		}
		model := diagram.Build(def, steps)

		if format == "png" {
			png, err := diagram.RenderImage(ctx, model)
			if err != nil {
				return err
			}
			return os.WriteFile(output, png, 0o644)
		}
		text := diagram.RenderMermaid(model)
		if output != "" {
			return os.WriteFile(output, []byte(text), 0o644)
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	},
}

func init() {
	f := diagramCmd.Flags()
	f.String("format", "mermaid", "output format: mermaid or png")
	f.StringP("output", "o", "", "write to file instead of stdout")
	f.String("execution", "", "color steps by this execution's step records")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/seed"
	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/pkg/schema"
)

const cliInitiator = "cli"

var runCmd = &cobra.Command{
	Use:   "run [definition-id]",
	Short: "Start an execution of a workflow definition",
	Long: `Start an execution of an ACTIVE definition, or import a YAML definition
with --file, activate it and start it. With --wait the execution's events are
printed as they happen and the command fails unless the execution completes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringArrayP("param", "p", nil, "runtime parameter key=value (value parsed as JSON when possible)")
	f.StringP("file", "f", "", "YAML definition to create, activate and run")
	f.Bool("wait", false, "stream events until the execution finishes")
	f.String("executed-by", cliInitiator, "initiator recorded on the execution")
}

func runRun(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if (len(args) == 1) == (file != "") {
		return errors.New("pass either a definition id or --file")
	}
	rawParams, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}
	wait, _ := cmd.Flags().GetBool("wait")
	executedBy, _ := cmd.Flags().GetString("executed-by")

	ctx := cmd.Context()
	a, err := commandApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	workflowID := ""
	if file != "" {
		workflowID, err = importDefinition(ctx, a.engine, file)
		if err != nil {
			return err
		}
	} else {
		workflowID = args[0]
	}

	out := cmd.OutOrStdout()
	if !wait {
		exec, err := a.engine.Start(ctx, workflowID, params, executedBy)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, exec.ExecutionID)
		return nil
	}

	// Subscribe before starting so no event is missed.
	events, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{WorkflowID: workflowID})
	if err != nil {
		return err
	}
	defer cancel()

	exec, err := a.engine.Start(ctx, workflowID, params, executedBy)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "execution %s started\n", exec.ExecutionID)

	if err := followExecution(ctx, out, events, exec.ExecutionID); err != nil {
		return err
	}
	report, err := a.engine.GetStatus(ctx, exec.ExecutionID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Status != schema.ExecutionCompleted {
		return fmt.Errorf("execution %s ended %s", report.ExecutionID, report.Status)
	}
	return nil
}

// followExecution prints events of one execution until its terminal event.
func followExecution(ctx context.Context, out io.Writer, events <-chan streaming.StreamEvent, executionID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("event stream closed")
			}
			if ev.ExecutionID != executionID {
				continue
			}
			line := ev.EventType
			if ev.StepName != "" {
				line += " " + ev.StepName
			}
			fmt.Fprintf(out, "%s %s\n", ev.Timestamp.Format("15:04:05.000"), line)
			switch ev.EventType {
			case schema.EventExecutionCompleted, schema.EventExecutionFailed, schema.EventExecutionCancelled:
				return nil
			}
		}
	}
}

func importDefinition(ctx context.Context, eng *engine.Engine, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	def, err := seed.Decode(f)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	created, err := eng.CreateDefinition(ctx, def)
	if err != nil {
		return "", err
	}
	if err := eng.SetDefinitionStatus(ctx, created.ID, schema.DefinitionActive); err != nil {
		return "", err
	}
	return created.ID, nil
}

// parseParams turns key=value pairs into a parameter map. Values that parse
// as JSON keep their type; anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", p)
		}
		var val any
		if err := json.Unmarshal([]byte(raw), &val); err != nil {
			val = raw
		}
		params[key] = val
	}
	return params, nil
}

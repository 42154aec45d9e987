package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage cron schedules that start workflow definitions",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <definition-id> <cron-expression>",
	Short: "Schedule a definition, e.g. stepwise schedule add <id> \"*/15 * * * *\"",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawParams, _ := cmd.Flags().GetStringArray("param")
		params, err := parseParams(rawParams)
		if err != nil {
			return err
		}
		executedBy, _ := cmd.Flags().GetString("executed-by")

		a, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if _, err := a.engine.GetDefinition(ctx, args[0]); err != nil {
			return err
		}
		job, err := a.scheduler.AddJob(ctx, args[0], args[1], params, executedBy)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s next run %s\n", job.ID, job.NextRunAt.Format(time.RFC3339))
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list [definition-id]",
	Short: "List schedules",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		workflowID := ""
		if len(args) == 1 {
			workflowID = args[0]
		}
		jobs, err := a.scheduler.ListJobs(cmd.Context(), workflowID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWORKFLOW\tCRON\tENABLED\tNEXT RUN\tLAST STATUS")
		for _, j := range jobs {
			next := "-"
			if j.NextRunAt != nil {
				next = j.NextRunAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n", j.ID, j.WorkflowID, j.CronExpression, j.Enabled, next, j.LastRunStatus)
		}
		return w.Flush()
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <schedule-id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := commandApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return a.scheduler.RemoveJob(cmd.Context(), args[0])
	},
}

func init() {
	scheduleAddCmd.Flags().StringArrayP("param", "p", nil, "runtime parameter key=value")
	scheduleAddCmd.Flags().String("executed-by", "scheduler", "initiator recorded on started executions")
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd)
}

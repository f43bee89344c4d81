package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aydarnuman/catering-pro-sub001/cmd/costengine/cli"
	"github.com/aydarnuman/catering-pro-sub001/internal/app"
)

var (
	redisAddr      string
	triggerOptions cli.TriggerOptions
	scheduledLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and trigger background jobs",
}

var jobsEnqueueCmd = &cobra.Command{
	Use:       "enqueue <task type>",
	Short:     "Enqueue a pricing or costing task",
	Long:      "Enqueue one of: " + strings.Join(cli.TaskTypes(), ", "),
	Args:      cobra.ExactArgs(1),
	ValidArgs: cli.TaskTypes(),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobsCLI, err := openJobsCLI()
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		info, err := jobsCLI.Trigger(cmd.Context(), args[0], triggerOptions)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	},
}

var jobsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the queue backlog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobsCLI, err := openJobsCLI()
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueue(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return w.Flush()
	},
}

var jobsScheduledCmd = &cobra.Command{
	Use:   "scheduled",
	Short: "List tasks waiting for their scheduled time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobsCLI, err := openJobsCLI()
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		tasks, err := jobsCLI.ListScheduled(cmd.Context(), scheduledLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tNEXT RUN")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func openJobsCLI() (*cli.JobsCLI, error) {
	addr := redisAddr
	if addr == "" {
		cfg, err := app.LoadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.RedisAddr
	}
	return cli.NewJobsCLI(addr)
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address (default: REDIS_ADDR)")

	jobsEnqueueCmd.Flags().Int64Var(&triggerOptions.ProductID, "product-id", 0, "Limit to one product")
	jobsEnqueueCmd.Flags().Int64Var(&triggerOptions.PlanID, "plan-id", 0, "Limit to one menu plan")
	jobsEnqueueCmd.Flags().BoolVar(&triggerOptions.DryRun, "dry-run", false, "Report anomaly corrections without writing them")

	jobsScheduledCmd.Flags().IntVar(&scheduledLimit, "limit", 10, "Maximum tasks to list")

	jobsCmd.AddCommand(jobsEnqueueCmd)
	jobsCmd.AddCommand(jobsHealthCmd)
	jobsCmd.AddCommand(jobsScheduledCmd)
}

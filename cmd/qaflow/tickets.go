package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/qaflow/internal/buildwait"
	"github.com/fyrsmithlabs/qaflow/internal/services"
	"github.com/fyrsmithlabs/qaflow/internal/workflow"
)

var (
	queueProject   string
	queueUser      string
	queueLimit     int
	claimValidator string
	passComment    string
	failReport     string
	verifyEnv      string
	verifySummary  string
	verifySkipCI   bool
	waitChange     string
	waitInterval   time.Duration
	waitMaxWait    time.Duration
)

func init() {
	rootCmd.AddCommand(queueCmd, contextCmd, claimCmd, passCmd, failCmd, verifyCmd, waitBuildCmd)

	queueCmd.Flags().StringVar(&queueProject, "project", "", "project key (default jira.project)")
	queueCmd.Flags().StringVar(&queueUser, "user", "", "assignee for my_validations (default jira.username)")
	queueCmd.Flags().IntVar(&queueLimit, "limit", services.DefaultTicketLimit, "maximum tickets to list")

	claimCmd.Flags().StringVar(&claimValidator, "validator", "", "person validating the ticket (required)")
	_ = claimCmd.MarkFlagRequired("validator")

	passCmd.Flags().StringVar(&passComment, "comment", "", "comment to add before resolving")

	failCmd.Flags().StringVar(&failReport, "report", "", "bug report added as a comment (required)")
	_ = failCmd.MarkFlagRequired("report")

	verifyCmd.Flags().StringVar(&verifyEnv, "environment", "", "environment to check (default deploy.verify_environment)")
	verifyCmd.Flags().StringVar(&verifySummary, "summary", "", "extra text for the resolution comment")
	verifyCmd.Flags().BoolVar(&verifySkipCI, "skip-build-check", false, "do not require a successful build")

	waitBuildCmd.Flags().StringVar(&waitChange, "change", "", "code change (owner/repo#N) whose description gets the build status")
	waitBuildCmd.Flags().DurationVar(&waitInterval, "interval", 0, "poll interval (default orchestration.build_wait.poll_interval)")
	waitBuildCmd.Flags().DurationVar(&waitMaxWait, "max-wait", 0, "give up after this long (default orchestration.build_wait.max_wait)")
}

var queueCmd = &cobra.Command{
	Use:   "queue <query>",
	Short: "List the tickets in a QA queue",
	Long: `Run a named ticket search from jira.queries. Built in are ready_for_qa,
in_progress and my_validations.`,
	Example: `  qaflow queue ready_for_qa --project PROJ --limit 10`,
	Args:    exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			list, err := a.svc.FindTickets(ctx, services.TicketQuery{
				Query:   args[0],
				Project: queueProject,
				User:    queueUser,
				Limit:   queueLimit,
			})
			return printJSON(cmd.OutOrStdout(), list, err)
		})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <ticket>",
	Short: "Show the ticket with its linked changes, deployments and build",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			snap, err := a.svc.GetContext(ctx, args[0])
			return printJSON(cmd.OutOrStdout(), snap, err)
		})
	},
}

var claimCmd = &cobra.Command{
	Use:     "claim <ticket>",
	Short:   "Move a ticket into QA and record the validator",
	Example: `  qaflow claim PROJ-123 --validator alice`,
	Args:    exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.svc.Claim(ctx, args[0], claimValidator)
			return printJSON(cmd.OutOrStdout(), report, err)
		})
	},
}

var passCmd = &cobra.Command{
	Use:   "pass <ticket>",
	Short: "Resolve a ticket as passed",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.svc.ResolvePass(ctx, args[0], passComment)
			return printJSON(cmd.OutOrStdout(), report, err)
		})
	},
}

var failCmd = &cobra.Command{
	Use:     "fail <ticket>",
	Short:   "Reopen a ticket with a bug report",
	Example: `  qaflow fail PROJ-123 --report "Login returns 500 on staging"`,
	Args:    exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.svc.ResolveFail(ctx, args[0], failReport)
			return printJSON(cmd.OutOrStdout(), report, err)
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <ticket>",
	Short: "Check the deployment and resolve the ticket when it is live",
	Long: `Verify that the ticket's merged change is deployed and, unless
--skip-build-check is set, that its latest build succeeded. A passing
verification resolves the ticket. An inconclusive one leaves it unchanged.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := workflow.VerifyOptions{Environment: verifyEnv, Summary: verifySummary}
		if cmd.Flags().Changed("skip-build-check") {
			requireBuild := !verifySkipCI
			opts.RequireBuild = &requireBuild
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.svc.Verify(ctx, args[0], opts)
			return printJSON(cmd.OutOrStdout(), res, err)
		})
	},
}

var waitBuildCmd = &cobra.Command{
	Use:     "wait-build <build>",
	Short:   "Poll a build until it finishes",
	Example: `  qaflow wait-build team/api#42 --change org/api#7 --max-wait 30m`,
	Args:    exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out, err := a.svc.WaitForBuild(ctx, buildwait.Request{
				BuildID:      args[0],
				ChangeID:     waitChange,
				PollInterval: waitInterval,
				MaxWait:      waitMaxWait,
			})
			return printJSON(cmd.OutOrStdout(), out, err)
		})
	},
}

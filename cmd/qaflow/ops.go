package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/qaflow/internal/services"
)

var (
	changesRepos  []string
	compareEnvs   []string
	buildsLimit   int
	triggerChange string
	triggerBranch string
	triggerJob    string
	triggerEnv    string
	triggerParams map[string]string
	notifyRoom    string
)

func init() {
	rootCmd.AddCommand(changesCmd, commitCmd, compareCmd, buildsCmd, triggerCmd, notifyCmd)

	changesCmd.Flags().StringSliceVar(&changesRepos, "repo", nil, "repositories to search (default github.repositories)")
	compareCmd.Flags().StringSliceVar(&compareEnvs, "env", nil, "environments to compare (default deploy.environments)")
	buildsCmd.Flags().IntVar(&buildsLimit, "limit", 5, "number of builds")

	triggerCmd.Flags().StringVar(&triggerChange, "change", "", "code change to test; its branch is used when --branch is empty")
	triggerCmd.Flags().StringVar(&triggerBranch, "branch", "", "branch to test")
	triggerCmd.Flags().StringVar(&triggerJob, "job", "", "job alias or path (default the e2e job)")
	triggerCmd.Flags().StringVar(&triggerEnv, "environment", "", "target environment passed to the job")
	triggerCmd.Flags().StringToStringVar(&triggerParams, "param", nil, "extra job parameters, key=value")

	notifyCmd.Flags().StringVar(&notifyRoom, "room", "", "room id (default webex.room_id)")
}

var changesCmd = &cobra.Command{
	Use:   "changes <ticket>",
	Short: "Find the code changes that mention a ticket",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.svc.FindChanges(ctx, args[0], changesRepos)
			return printJSON(cmd.OutOrStdout(), res, err)
		})
	},
}

var commitCmd = &cobra.Command{
	Use:     "commit <owner/repo> <sha>",
	Short:   "Find the code change a commit belongs to",
	Example: `  qaflow commit org/api 3f2a9c1`,
	Args:    exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			change, err := a.svc.FindChangeForCommit(ctx, args[0], args[1])
			return printJSON(cmd.OutOrStdout(), change, err)
		})
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <artifact>",
	Short: "Compare an artifact's deployment across environments",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			cmp, err := a.svc.CompareEnvironments(ctx, args[0], compareEnvs)
			return printJSON(cmd.OutOrStdout(), cmp, err)
		})
	},
}

var buildsCmd = &cobra.Command{
	Use:   "builds <job>",
	Short: "List a job's most recent builds",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			runs, err := a.svc.RecentBuilds(ctx, args[0], buildsLimit)
			return printJSON(cmd.OutOrStdout(), runs, err)
		})
	},
}

var triggerCmd = &cobra.Command{
	Use:     "trigger-e2e",
	Short:   "Start the end-to-end test job for a branch",
	Example: `  qaflow trigger-e2e --change org/api#7 --environment staging`,
	Args:    exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.svc.TriggerE2E(ctx, services.TriggerRequest{
				ChangeID:    triggerChange,
				Branch:      triggerBranch,
				Job:         triggerJob,
				Environment: triggerEnv,
				Parameters:  triggerParams,
			})
			return printJSON(cmd.OutOrStdout(), res, err)
		})
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify <markdown>",
	Short: "Post a message to the QA chat room",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			err := a.svc.Notify(ctx, notifyRoom, args[0])
			return printJSON(cmd.OutOrStdout(), map[string]bool{"sent": err == nil}, err)
		})
	},
}

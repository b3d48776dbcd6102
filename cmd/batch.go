package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/batch"
	"github.com/timvw/fallacy-patrol/internal/model"
	"github.com/timvw/fallacy-patrol/internal/store"
)

var (
	flagBatchState    string
	flagBatchParallel int
)

var batchCmd = &cobra.Command{
	Use:   "batch [id...]",
	Short: "Analyze many stored requests concurrently",
	Long: `Analyze the given request ids, or every stored request in --state (default:
idle) when no id is given. At most --parallel analyses run at once.

Completed and failed requests can only be analyzed again with "reanalyze".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ids := args
		if len(ids) == 0 {
			st, err := model.ParseState(flagBatchState)
			if err != nil {
				return err
			}
			reqs, err := env.store.List(ctx, store.Filter{State: st})
			if err != nil {
				return err
			}
			for _, r := range reqs {
				ids = append(ids, r.ID)
			}
		}
		if len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "no requests to analyze")
			return printJSON(&batch.Result{Items: []batch.Item{}})
		}

		parallel := env.cfg.Parallel
		if cmd.Flags().Changed("parallel") {
			parallel = flagBatchParallel
		}

		// Generate a session ID to group all analyses from this run
		sessionID := fmt.Sprintf("fp-%d-%d", os.Getpid(), time.Now().Unix())

		runner := &batch.Runner{
			Analyzer:  env.analyzer,
			Parallel:  parallel,
			Logger:    env.log,
			SessionID: sessionID,
		}
		res := runner.Run(ctx, ids, env.cfg.ProviderConfig())

		// Log errors to stderr but don't fail.
		for _, it := range res.Items {
			if it.Err != nil {
				env.log.Warn("batch item skipped", zap.String("id", it.ID), zap.Error(it.Err))
			}
		}
		fmt.Fprintf(os.Stderr, "batch: %d completed, %d failed, %d skipped\n", res.Completed, res.Failed, res.Errors)

		if flagJSON {
			return printJSON(res)
		}
		var done []*model.AnalysisRequest
		for _, it := range res.Items {
			if it.Request != nil {
				done = append(done, it.Request)
			}
		}
		return printRequests(done)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reset analyses left in progress by an interrupted run",
	Long: `A process that exits mid-analysis leaves its requests in_progress. recover
moves them back to idle so they can be analyzed again. Run it only when no
other fallacy-patrol process is using the same database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := env.analyzer.Recover(cmd.Context())
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]int{"recovered": n})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recovered %d request(s)\n", n)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&flagBatchState, "state", string(model.StateIdle), "select requests in this state when no ids are given")
	batchCmd.Flags().IntVar(&flagBatchParallel, "parallel", 0, "number of analyses to run concurrently (default: config parallel)")
	rootCmd.AddCommand(batchCmd, recoverCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/fallacy-patrol/internal/model"
	"github.com/timvw/fallacy-patrol/internal/store"
)

var (
	flagListState string
	flagListLimit int
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one analysis and its findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := env.store.Get(cmd.Context(), args[0])
		if err != nil {
			return notFound(args[0], err)
		}
		return printRequest(r)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored analyses, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := listFilter()
		if err != nil {
			return err
		}
		reqs, err := env.store.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		return printRequests(reqs)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count analyses by state and fallacies by name",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := listFilter()
		if err != nil {
			return err
		}
		reqs, err := env.store.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		sum := model.Summarize(reqs)
		if flagJSON {
			return printJSON(sum)
		}
		return renderer().Summary(sum)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an analysis and its findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := env.store.Delete(cmd.Context(), args[0]); err != nil {
			return notFound(args[0], err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "deleted %s\n", args[0])
		return nil
	},
}

// listFilter builds a store filter from --state and --limit.
func listFilter() (store.Filter, error) {
	f := store.Filter{Limit: flagListLimit}
	if flagListState != "" {
		st, err := model.ParseState(flagListState)
		if err != nil {
			return f, err
		}
		f.State = st
	}
	return f, nil
}

func init() {
	for _, c := range []*cobra.Command{listCmd, summaryCmd} {
		c.Flags().StringVar(&flagListState, "state", "", "only include requests in this state: idle, in_progress, completed, failed")
		c.Flags().IntVar(&flagListLimit, "limit", 0, "only include the newest N requests")
	}
	rootCmd.AddCommand(showCmd, listCmd, summaryCmd, deleteCmd)
}

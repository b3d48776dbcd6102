package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagAnalyzeID string

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text...]",
	Short: "Analyze a passage for logical fallacies",
	Long: `Store a new passage and analyze it with the configured LLM provider.

The passage is read from the arguments, or from stdin when no argument (or "-")
is given. Use --id to analyze a stored request that is idle, completed or
failed; a completed or failed request is rerun on its unchanged text.

The analysis always ends in a terminal state. Provider and parsing failures
are recorded as "failed" with a generic message; the cause is logged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pc := env.cfg.ProviderConfig()

		if flagAnalyzeID != "" {
			if len(args) > 0 {
				return fmt.Errorf("--id and text arguments are mutually exclusive")
			}
			r, err := env.analyzer.Analyze(ctx, flagAnalyzeID, pc)
			if err != nil {
				return notFound(flagAnalyzeID, err)
			}
			return printRequest(r)
		}

		text, err := readText(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		r, err := env.analyzer.Create(ctx, text, pc)
		if err != nil {
			return err
		}
		return printRequest(r)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [text...]",
	Short: "Store a passage without analyzing it",
	Long: `Store a new passage in the idle state and print it. Analyze it later with
"analyze --id" or "batch".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readText(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		r, err := env.analyzer.Submit(cmd.Context(), text)
		if err != nil {
			return err
		}
		return printRequest(r)
	},
}

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze <id>",
	Short: "Run a completed or failed analysis again",
	Long: `Analyze the stored passage again with the current provider settings.

Only requests in a terminal state (completed, failed) can be re-analyzed.
The previous findings are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := env.analyzer.Reanalyze(cmd.Context(), args[0], env.cfg.ProviderConfig())
		if err != nil {
			return notFound(args[0], err)
		}
		return printRequest(r)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&flagAnalyzeID, "id", "", "analyze a stored idle, completed or failed request instead of new text")
	rootCmd.AddCommand(analyzeCmd, submitCmd, reanalyzeCmd)
}

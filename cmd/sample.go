package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/fallacy-patrol/internal/samples"
)

var (
	flagSampleAnalyze     bool
	flagSampleSubmit      bool
	flagSamplePrecomputed bool
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print or analyze the next built-in sample passage",
	Long: `Samples are served round-robin. The position is kept in the database, so
successive runs walk through the whole list.

By default the next passage is printed. --submit stores it, --analyze stores
and analyzes it, and --precomputed stores the next ready-made analysis without
calling a provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		catalog, err := samples.Load()
		if err != nil {
			return err
		}
		p := samples.NewProvider(catalog, env.store)

		if flagSamplePrecomputed {
			r, err := p.NextAnalysis(ctx)
			if err != nil {
				return err
			}
			if err := env.store.Save(ctx, r); err != nil {
				return fmt.Errorf("save sample analysis: %w", err)
			}
			return printRequest(r)
		}

		text, err := p.NextPassage(ctx)
		if err != nil {
			return err
		}
		switch {
		case flagSampleAnalyze:
			r, err := env.analyzer.Create(ctx, text, env.cfg.ProviderConfig())
			if err != nil {
				return err
			}
			return printRequest(r)
		case flagSampleSubmit:
			r, err := env.analyzer.Submit(ctx, text)
			if err != nil {
				return err
			}
			return printRequest(r)
		}
		if flagJSON {
			return printJSON(map[string]string{"text": text})
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	sampleCmd.Flags().BoolVar(&flagSampleAnalyze, "analyze", false, "store and analyze the passage")
	sampleCmd.Flags().BoolVar(&flagSampleSubmit, "submit", false, "store the passage without analyzing it")
	sampleCmd.Flags().BoolVar(&flagSamplePrecomputed, "precomputed", false, "store the next precomputed sample analysis")
	sampleCmd.MarkFlagsMutuallyExclusive("analyze", "submit", "precomputed")
	rootCmd.AddCommand(sampleCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/fallacy-patrol/internal/prompt"
)

var promptCmd = &cobra.Command{
	Use:   "prompt [text...]",
	Short: "Print the prompt that would be sent for a passage",
	Long: `Render the analysis prompt for a passage (from arguments or stdin) without
calling a provider. Useful to inspect exactly what the model receives.`,
	Annotations: map[string]string{bareAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readText(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), prompt.Build(text))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{bareAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fallacy-patrol %s (prompt v%s)\n", Version, prompt.Version)
	},
}

func init() {
	rootCmd.AddCommand(promptCmd, versionCmd)
}

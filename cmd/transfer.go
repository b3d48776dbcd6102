package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/fallacy-patrol/internal/store"
)

var (
	flagExportOutput    string
	flagImportOverwrite bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all analyses as a JSON document",
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := env.store.List(cmd.Context(), store.Filter{})
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if flagExportOutput != "" && flagExportOutput != "-" {
			f, err := os.Create(flagExportOutput)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := store.Export(w, reqs, time.Now()); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if w != cmd.OutOrStdout() {
			fmt.Fprintf(os.Stderr, "exported %d analyses to %s\n", len(reqs), flagExportOutput)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load analyses from a JSON document written by export",
	Long: `Load analyses from an export document ("-" reads stdin).

Requests that were in progress when exported are imported as idle. Requests
whose id already exists are skipped unless --overwrite is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()
			r = f
		}
		reqs, err := store.Import(r)
		if err != nil {
			return err
		}

		imported, skipped := 0, 0
		for _, req := range reqs {
			if !flagImportOverwrite {
				_, err := env.store.Get(ctx, req.ID)
				if err == nil {
					skipped++
					continue
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			if err := env.store.Save(ctx, req); err != nil {
				return fmt.Errorf("save %s: %w", req.ID, err)
			}
			imported++
		}
		if flagJSON {
			return printJSON(map[string]int{"imported": imported, "skipped": skipped})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d analyses, skipped %d existing\n", imported, skipped)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&flagExportOutput, "output", "o", "", "write to file instead of stdout")
	importCmd.Flags().BoolVar(&flagImportOverwrite, "overwrite", false, "replace analyses whose id already exists")
	rootCmd.AddCommand(exportCmd, importCmd)
}

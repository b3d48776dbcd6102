package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/timvw/fallacy-patrol/internal/intake"
)

var flagServeSocket string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept passages on a Unix datagram socket",
	Long: `Listen for JSON datagrams {"text": ..., "source": ..., "ts": ...} from
upstream producers such as an OCR process or a browser extension.

Every valid passage is stored. It is analyzed right away when the datagram
sets "analyze": true or auto_analyze is enabled. Repeated passages within
dedup_ttl are dropped.

Analyses left in progress by an earlier run are reset to idle on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := env.cfg

		n, err := env.analyzer.Recover(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			env.log.Info("recovered interrupted analyses", zap.Int("count", n))
		}

		socketPath := flagServeSocket
		if socketPath == "" {
			socketPath = cfg.SocketPath
		}
		if socketPath == "" {
			socketPath = intake.DefaultSocketPath()
		}

		pc := cfg.ProviderConfig()
		submit := func(ctx context.Context, p intake.Passage) error {
			r, err := env.analyzer.Submit(ctx, p.Text)
			if err != nil {
				return err
			}
			env.log.Info("passage stored",
				zap.String("id", r.ID),
				zap.String("source", p.Source))
			if p.Analyze || cfg.AutoAnalyze {
				// Detached from the datagram; Execute waits for it on shutdown.
				env.analyzer.AnalyzeAsync(context.WithoutCancel(ctx), r.ID, pc)
			}
			return nil
		}

		collector := intake.NewCollector(submit, socketPath, env.log)
		collector.Dedup = intake.NewDedup(cfg.DedupTTLDuration)
		if err := collector.Start(ctx); err != nil {
			return fmt.Errorf("intake collector: %w", err)
		}
		defer collector.Close()
		fmt.Fprintf(os.Stderr, "intake collector: listening on %s\n", collector.SocketPath())

		<-ctx.Done()
		env.log.Info("shutting down")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagServeSocket, "socket", "", "Unix datagram socket path (default: $XDG_RUNTIME_DIR/fallacy-patrol/intake.sock)")
	rootCmd.AddCommand(serveCmd)
}

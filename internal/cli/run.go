package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"weft/internal/engine"
	srcfile "weft/source/file"

	_ "weft/sink/file"
	_ "weft/sink/stdout"
)

var metricsPort int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every flow until its source is exhausted or a signal arrives",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srcfile.Register("jsonl", func() srcfile.Adapter { return &srcfile.JSONLDriver{} })

		e, err := engine.Bootstrap(ctx, engine.Config{
			ConfigPath:  cfgPath,
			MetricsPort: metricsPort,
		})
		if err != nil {
			return err
		}
		return e.Run(ctx)
	},
}

func init() {
	runCmd.Flags().IntVar(&metricsPort, "metrics-port", 0,
		"override the metrics port from the runtime config")
	rootCmd.AddCommand(runCmd)
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/internal/observability"
	"github.com/valter-silva-au/memory-talk/internal/proxy"
)

var (
	proxyListen string
	proxyTarget string
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Serve the backend API behind a logging pass-through proxy",
	Long: `Forward every request under /api to the analysis backend with the /api prefix
removed, logging one line per request. Streaming replies are passed through as
they arrive. Client metrics are exposed in Prometheus format at /metrics.

Listen address and target default to proxy.listen and proxy.target in
.mtalkconfig.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, target := proxyListen, proxyTarget
		if Config != nil {
			if listen == "" {
				listen = Config.Proxy.Listen
			}
			if target == "" {
				target = Config.Proxy.Target
			}
		}
		if listen == "" || target == "" {
			return fmt.Errorf("proxy listen address and target are required")
		}

		opts := observability.LoggerOptions{Console: true, Verbose: true}
		if Config != nil {
			opts.File = Config.Log.File
			opts.Level = Config.Log.Level
		}
		logger, err := observability.NewLogger(opts)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		srv, err := proxy.NewServer(listen, proxy.Options{
			Target:  target,
			Logger:  logger,
			Metrics: ClientMetrics,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Proxying http://%s/api -> %s\n", srv.Addr(), target)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	proxyCmd.Flags().StringVar(&proxyListen, "listen", "", "Listen address (default from config)")
	proxyCmd.Flags().StringVar(&proxyTarget, "target", "", "Backend origin to forward to (default from config)")
	rootCmd.AddCommand(proxyCmd)
}

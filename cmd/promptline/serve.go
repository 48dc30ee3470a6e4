package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/promptline"
	"pkt.systems/promptline/internal/appconfig"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var addr string
	var httpAddr string
	var disableAudit bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve promptline sessions over SSH and, when configured, HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(configPath(cmd))
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.SSH.Addr = addr
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if disableAudit {
				cfg.Logging.DisableCommandAudit = true
			}
			server, err := promptline.New(toServerConfig(cfg), promptline.ServerDeps{Logger: logger})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := server.Start(ctx); err != nil {
				return err
			}
			waitErr := server.Wait()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("server stop failed", "err", err)
			}
			return waitErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override the SSH listen address")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "serve the HTTP API on this address")
	cmd.Flags().BoolVar(&disableAudit, "disable-command-audit", false, "do not log submitted commands")
	return cmd
}

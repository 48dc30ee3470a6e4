package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/promptline"
	"pkt.systems/promptline/httpapi"
	"pkt.systems/promptline/internal/appconfig"
	"pkt.systems/promptline/internal/shell"
	"pkt.systems/promptline/sshserver"
	"pkt.systems/pslog"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the promptline config file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.WriteDefault(configPath(cmd), overwrite)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("config wrote", "path", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath(cmd))
			if err != nil {
				return err
			}
			out, err := appconfig.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func toServerConfig(cfg appconfig.Config) promptline.ServerConfig {
	return promptline.ServerConfig{
		Session: cfg.Session.SessionConfig(),
		Shell: shell.Config{
			Path:       cfg.Shell.Path,
			Args:       append([]string(nil), cfg.Shell.Args...),
			Env:        cfg.Shell.Env,
			WorkingDir: cfg.Shell.WorkingDir,
		},
		SSH: sshserver.Config{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			Theme:              cfg.SSH.Theme,
		},
		HTTP: httpapi.Config{
			Addr:        cfg.HTTP.Addr,
			BasePath:    cfg.HTTP.BasePath,
			Token:       cfg.HTTP.Token,
			HistorySize: cfg.HTTP.HistorySize,
			TailLines:   cfg.HTTP.TailLines,
		},
		StateDir:            cfg.StateDir,
		HomeRoot:            cfg.Shell.HomeRoot,
		SkelDir:             cfg.Shell.SkelDir,
		DisableAuditLogging: cfg.Logging.DisableCommandAudit,
	}
}

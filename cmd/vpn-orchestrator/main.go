// Command vpn-orchestrator runs the VPN connection orchestrator and controls
// a running instance.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"github.com/user/vpn-orchestrator/internal/api"
	"github.com/user/vpn-orchestrator/internal/cli"
	"github.com/user/vpn-orchestrator/internal/config"
	"github.com/user/vpn-orchestrator/internal/core"
	"github.com/user/vpn-orchestrator/internal/elevate"
	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/profilestore"
	"github.com/user/vpn-orchestrator/internal/tun"
	"github.com/user/vpn-orchestrator/internal/ui"
)

var (
	configFile string
	relaunch   bool

	rootCmd = &cobra.Command{
		Use:          "vpn-orchestrator",
		Short:        "VPN connection orchestrator",
		Long:         `vpn-orchestrator keeps a VPN tunnel up by cycling through the available protocols.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.GetConfigPath(), "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, extra, err := prepare(os.Args[1:])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer logger.Close()
			return svc.Run(ctx, extra...)
		},
	}

	trayCmd := &cobra.Command{
		Use:   "tray",
		Short: "Run the orchestrator with a system tray icon",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, extra, err := prepare(os.Args[1:])
			if err != nil {
				return err
			}
			defer logger.Close()
			return ui.Run(svc, extra...)
		},
	}

	for _, c := range []*cobra.Command{runCmd, trayCmd} {
		c.Flags().BoolVar(&relaunch, "elevate", true, "relaunch with administrator privileges when needed")
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configFile); err != nil {
				return err
			}
			cm := config.NewManager(configFile)
			if err := cm.Load(); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage profile secrets",
	}
	secretCmd.AddCommand(&cobra.Command{
		Use:   "set <profile> <key> <value>",
		Short: "Store a secret option of a profile in the keyring",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cm := config.NewManager(configFile)
			if err := cm.Load(); err != nil {
				return err
			}
			cfg := cm.Get()
			store, err := profilestore.New(profilestore.Options{
				Dir:            cfg.Profiles.Dir,
				KeyringService: cfg.Profiles.KeyringService,
			})
			if err != nil {
				return err
			}
			return store.SetSecret(args[0], args[1], args[2])
		},
	})

	rootCmd.AddCommand(runCmd, trayCmd, validateCmd, secretCmd)
	rootCmd.AddCommand(cli.NewCommands(&configFile)...)
}

// prepare checks privileges and builds the service with its control API.
func prepare(args []string) (*core.Service, []suture.Service, error) {
	cm := config.NewManager(configFile)
	if err := cm.Load(); err != nil {
		return nil, nil, err
	}
	cfg := cm.Get()

	if !cfg.Profiles.Simulate {
		if err := elevate.Ensure(relaunch, args); err != nil {
			return nil, nil, err
		}
		if err := tun.Preflight(); err != nil {
			return nil, nil, err
		}
	}

	svc, err := core.NewService(configFile)
	if err != nil {
		return nil, nil, err
	}

	var extra []suture.Service
	if cfg.API.Enabled {
		extra = append(extra, api.New(api.Config{
			Service: svc,
			Metrics: svc.Metrics().Handler(),
			Token:   cfg.API.Token,
			Listen:  cfg.API.Listen,
		}))
	}
	return svc, extra, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, elevate.ErrNotPrivileged) {
			fmt.Fprintln(os.Stderr, "Please run as administrator.")
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

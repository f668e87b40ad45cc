// Package cli provides the commands that control a running orchestrator.
package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/vpn-orchestrator/internal/api"
	"github.com/user/vpn-orchestrator/internal/config"
	"github.com/user/vpn-orchestrator/internal/core"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// Options locates the control API. Empty fields are read from the
// configuration file at ConfigPath.
type Options struct {
	ConfigPath *string
	API        string
	Token      string
}

func (o *Options) client() *api.Client {
	addr, token := o.API, o.Token
	if addr == "" || token == "" {
		cm := config.NewManager(*o.ConfigPath)
		if err := cm.Load(); err == nil {
			cfg := cm.Get()
			if addr == "" {
				addr = cfg.API.Listen
			}
			if token == "" {
				token = cfg.API.Token
			}
		}
	}
	if addr == "" {
		addr = config.DefaultConfig().API.Listen
	}
	return api.NewClient(addr, token)
}

// NewCommands returns the control commands, to be added to the root command.
func NewCommands(configPath *string) []*cobra.Command {
	opts := &Options{ConfigPath: configPath}
	var timeout time.Duration

	ctx := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	connectCmd := &cobra.Command{
		Use:   "connect [protocol [port]]",
		Short: "Connect, optionally with a specific protocol",
		Long: `Connect with the head of the protocol list and wait for the result.

With a protocol the service switches to it in the background; the port
defaults to the one the protocol list carries for it.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()

			var pp protocols.ProtocolPort
			if len(args) > 0 {
				pp.Protocol = args[0]
				if len(args) > 1 {
					pp.Port = args[1]
				} else {
					pp.Port = portFor(c, opts.client(), args[0])
				}
			}
			st, err := opts.client().Connect(c, pp)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			st, err := opts.client().Disconnect(c)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	reconnectCmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Reconnect with a rebuilt protocol list",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			st, err := opts.client().Reconnect(c)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			st, err := opts.client().Status(c)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	candidatesCmd := &cobra.Command{
		Use:     "candidates",
		Aliases: []string{"list"},
		Short:   "Show the protocol list in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			list, err := opts.client().Candidates(c)
			if err != nil {
				return err
			}
			return printCandidates(cmd.OutOrStdout(), list)
		},
	}
	candidatesCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget failed protocols and rebuild the list",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			list, err := opts.client().ResetCandidates(c)
			if err != nil {
				return err
			}
			return printCandidates(cmd.OutOrStdout(), list)
		},
	})

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the failover countdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			st, err := opts.client().CancelFailover(c)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	ipCmd := &cobra.Command{
		Use:   "ip",
		Short: "Show the public IP address",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			ip, err := opts.client().IPAddress(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ip)
			return nil
		},
	}

	powerCmd := &cobra.Command{
		Use:       "power <suspend|resume>",
		Short:     "Report a system sleep transition, for use in sleep hooks",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"suspend", "resume"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			st, err := opts.client().PowerEvent(c, args[0])
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	var lines int
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent service log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cancel := ctx(cmd)
			defer cancel()
			out, err := opts.client().Logs(c, lines)
			if err != nil {
				return err
			}
			for _, l := range out {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")

	cmds := []*cobra.Command{
		connectCmd, disconnectCmd, reconnectCmd, statusCmd,
		candidatesCmd, cancelCmd, ipCmd, powerCmd, logsCmd,
	}
	for _, c := range cmds {
		c.Flags().StringVar(&opts.API, "api", "", "control API address (default from config)")
		c.Flags().StringVar(&opts.Token, "token", "", "control API token (default from config)")
		c.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "request timeout")
	}
	return cmds
}

// portFor returns the port the candidate list has for protocol, or "" to
// let the service pick the default.
func portFor(ctx context.Context, c *api.Client, protocol string) string {
	list, err := c.Candidates(ctx)
	if err != nil {
		return ""
	}
	if i := list.Index(protocol); i >= 0 {
		return list[i].Port
	}
	return ""
}

func printStatus(w io.Writer, st *core.StatusPayload) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", st.State)
	if st.Protocol != "" {
		fmt.Fprintf(tw, "Protocol:\t%s %s (%s)\n", st.Protocol, st.Port, st.Provider)
	}
	if st.LocalIP != "" {
		fmt.Fprintf(tw, "Local IP:\t%s\n", st.LocalIP)
	}
	if st.ConnectedAt != nil {
		fmt.Fprintf(tw, "Connected:\t%s (%s)\n", st.ConnectedAt.Local().Format(time.DateTime),
			time.Since(*st.ConnectedAt).Round(time.Second))
	}
	if st.Network != "" {
		fmt.Fprintf(tw, "Network:\t%s\n", st.Network)
	}
	if st.Countdown > 0 {
		fmt.Fprintf(tw, "Next:\t%s in %ds\n", st.Next, st.Countdown)
	} else if st.Next != "" {
		fmt.Fprintf(tw, "Next:\t%s\n", st.Next)
	}
	if st.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", st.Error)
	}
	return tw.Flush()
}

func printCandidates(w io.Writer, list protocols.CandidateList) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPROTOCOL\tPORT\tSTATE")
	for i, c := range list {
		state := c.View.Kind.String()
		if c.View.Kind == protocols.ViewNextUp && c.View.Countdown > 0 {
			state = fmt.Sprintf("%s (%ds)", state, c.View.Countdown)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, c.Protocol, c.Port, state)
	}
	return tw.Flush()
}

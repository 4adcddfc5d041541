package cli

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/acolita/sdb/internal/config"
	"github.com/acolita/sdb/internal/discovery"
	"github.com/acolita/sdb/internal/portalloc"
	"github.com/acolita/sdb/internal/termclient"
)

func newListenCommand(g *globalOptions) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Open a client for every announced session",
		Long: `Wait for session announcements on UDP :6899 and open a terminal
client for each one, one at a time. Ctrl-C stops listening.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			relay := discovery.New(newClient(cfg, cmd),
				discovery.WithOutput(cmd.OutOrStdout()),
				discovery.WithAddress(address),
				discovery.WithHost(cfg.Server.Host),
				discovery.WithLogger(slog.Default()),
			)
			return relay.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&address, "address", ":"+strconv.Itoa(portalloc.NotifyPort), "UDP address to listen for announcements on")
	return cmd
}

func newConnectCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <port|host:port>",
		Short: "Open a client for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			addr, err := connectAddress(args[0], cfg.Server.Host)
			if err != nil {
				return err
			}
			return newClient(cfg, cmd).Connect(cmd.Context(), addr)
		},
	}
}

func newClient(cfg *config.Config, cmd *cobra.Command) *termclient.Client {
	return termclient.New(
		termclient.WithStdio(cmd.InOrStdin(), cmd.OutOrStdout()),
		termclient.WithPrompt(cfg.Client.Prompt),
		termclient.WithTimeout(cfg.Client.ConnectTimeout),
		termclient.WithHistory(termclient.NewHistory(cfg.Client.HistorySize)),
		termclient.WithLogger(slog.Default()),
	)
}

// connectAddress accepts a bare port, which is reached on host, or host:port.
func connectAddress(arg, host string) (string, error) {
	if port, err := strconv.Atoi(arg); err == nil {
		if port <= 0 || port > 65535 {
			return "", fmt.Errorf("port %d out of range", port)
		}
		return net.JoinHostPort(host, arg), nil
	}
	h, p, err := net.SplitHostPort(arg)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", arg, err)
	}
	if h == "" {
		h = host
	}
	if _, err := strconv.Atoi(p); err != nil {
		return "", fmt.Errorf("invalid port in %q", arg)
	}
	return net.JoinHostPort(h, p), nil
}

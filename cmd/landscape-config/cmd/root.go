package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/juanmitaboada/landscape-client/internal/config"
	"github.com/juanmitaboada/landscape-client/internal/service/configtool"
	"github.com/juanmitaboada/landscape-client/internal/version"
)

var (
	// socketPath stores the daemon control socket path.
	socketPath string

	// registrationKey is the shared secret for the register subcommand.
	registrationKey string

	// rootCmd represents the local administration tool.
	rootCmd = &cobra.Command{
		Use:   "landscape-config",
		Short: "Administer the local management client.",
		Long: `Talks to the running client daemon over its control socket.

Use it to register this computer with the management server, inspect the
daemon's registration and queue state, or trigger an immediate exchange.`,
		SilenceUsage: true,
	}

	registerCmd = &cobra.Command{
		Use:   "register",
		Short: "Register this computer with the management server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return configtool.Register(cmd.Context(), toolOptions(), registrationKey)
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show registration and queue state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return configtool.Status(cmd.Context(), toolOptions())
		},
	}

	exchangeCmd = &cobra.Command{
		Use:   "exchange",
		Short: "Trigger an immediate exchange with the server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return configtool.Exchange(cmd.Context(), toolOptions())
		},
	}
)

func toolOptions() *configtool.Options {
	return &configtool.Options{SocketPath: socketPath}
}

// Execute runs the administration tool and exits non-zero on error.
func Execute() {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s",
		config.DefaultControlSocket, "path to the daemon control socket")
	registerCmd.Flags().StringVarP(&registrationKey, "registration-key", "k",
		"", "registration key for the account")

	rootCmd.AddCommand(registerCmd, statusCmd, exchangeCmd)
}

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/juanmitaboada/landscape-client/internal/config"
	"github.com/juanmitaboada/landscape-client/internal/service/daemon"
	"github.com/juanmitaboada/landscape-client/internal/version"
)

// Exit codes of the daemon process.
const (
	exitConfiguration = 2
	exitRegistration  = 3
	exitInternal      = 4
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string

	// serverURL optionally overrides the configured server URL.
	serverURL string

	// accountName optionally overrides the configured account name.
	accountName string

	// rootCmd represents the client daemon.
	rootCmd = &cobra.Command{
		Use:   "landscape-client",
		Short: "Management client daemon.",
		Long: `Runs the systems-management client daemon.

The daemon registers this computer with the management server, periodically
reports facts about the machine (hardware, processes, network, packages) and
executes administrative commands issued by the server. All state survives
restarts through an on-disk store; local administration happens over a unix
control socket.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &daemon.Options{
				ConfigPath:  cfgPath,
				ServerURL:   serverURL,
				AccountName: accountName,
			}

			return daemon.Run(ctx, options)
		},
	}
)

// Execute runs the daemon and exits with a code describing the failure class.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()
	if err == nil {
		return
	}

	rootCmd.PrintErrln("Error:", err.Error())

	switch {
	case errors.Is(err, daemon.ErrConfiguration):
		os.Exit(exitConfiguration)
	case errors.Is(err, daemon.ErrRegistration):
		os.Exit(exitRegistration)
	default:
		os.Exit(exitInternal)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigPath, "path to configuration file")
	rootCmd.Flags().StringVar(&serverURL, "server-url", "", "override the configured server URL")
	rootCmd.Flags().StringVar(&accountName, "account-name", "", "override the configured account name")
}

package cmd

import (
	"errors"
	"os"

	"switchboard/internal/app"
	"switchboard/internal/mcpserver"
	"switchboard/internal/oauth"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates an upstream rejected the available credentials.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "A single MCP endpoint in front of many MCP servers",
	Long: `switchboard is an MCP broker. Clients connect to it once and reach every
configured upstream server through the search and invoke tools, plus one
native tool per favorite.

Upstreams are started on first use. Secrets in their environment and headers
are resolved from an override file, the process environment or a vault, and
servers with an oauth block get tokens through a browser-based flow.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by --version and the version command.
func SetVersion(v string) {
	rootCmd.Version = v
	mcpserver.ClientVersion = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code from getExitCode on
// failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "switchboard version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	var authRequired *mcpserver.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var flowErr *oauth.FlowError
	if errors.As(err, &flowErr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	app.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newServersCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newAuthCmd())
}

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"switchboard/internal/app"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP broker to a client",
		Long: `Starts the broker and serves MCP to one client.

With --transport=stdio (the default) the client talks over stdin and stdout,
which is what editors expect when they launch switchboard as a command. Logs
always go to stderr.

With --transport=streamable-http the broker listens on --addr and serves
MCP at /mcp and Prometheus metrics at /metrics.

Servers with startMode: eager are connected in the background at startup;
all others connect on first use.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	app.RegisterServeFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := loadApplication(cmd)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

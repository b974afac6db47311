package cmd

import (
	"fmt"

	"switchboard/internal/api"
	"switchboard/internal/app"
	"switchboard/internal/config"
	"switchboard/internal/formatting"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage OAuth tokens for upstream servers",
		Long: `Tokens are normally obtained on first use of a server with an oauth block.
These commands run the browser flow ahead of time, remove stored tokens and
show what is stored.`,
	}

	login := &cobra.Command{
		Use:   "login <server>",
		Short: "Run the authorization flow for a server",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuthLogin,
	}
	app.RegisterAuthFlags(login.Flags())

	logout := &cobra.Command{
		Use:   "logout <server>",
		Short: "Delete the stored token for a server",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuthLogout,
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show stored token state for servers with an oauth block",
		Args:  cobra.NoArgs,
		RunE:  runAuthStatus,
	}
	addOutputFlag(status)

	authCmd.AddCommand(login, logout, status)
	return authCmd
}

func oauthServer(application *app.Application, id string) (config.ServerDefinition, error) {
	def, ok := application.Upstreams().Definition(id)
	if !ok {
		return def, api.NewServerNotFoundError(id)
	}
	if def.OAuth == nil {
		return def, fmt.Errorf("server %s has no oauth block", id)
	}
	return def, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	application, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	def, err := oauthServer(application, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Opening the browser to authorize %s...\n", def.ID)
	if err := application.Tokens().Authorize(cmd.Context(), def.ID, def.URL, def.OAuth); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Authorized %s\n", def.ID)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	application, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	def, err := oauthServer(application, args[0])
	if err != nil {
		return err
	}
	if err := application.Tokens().Logout(def.ID); err != nil {
		return fmt.Errorf("failed to delete token for %s: %w", def.ID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", def.ID)
	return nil
}

type authRow struct {
	Server string `json:"server" yaml:"server"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	Status string `json:"status" yaml:"status"`
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	application, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	rows := []authRow{}
	tbl := formatting.Table{
		Headers: []string{"server", "url", "status"},
		Empty:   "No servers with an oauth block",
	}
	for _, id := range application.Upstreams().ServerIDs() {
		def, _ := application.Upstreams().Definition(id)
		if def.OAuth == nil {
			continue
		}
		row := authRow{Server: id, URL: def.URL, Status: string(application.Tokens().Status(id))}
		rows = append(rows, row)
		tbl.Rows = append(tbl.Rows, []string{row.Server, row.URL, row.Status})
	}
	return formatting.Render(cmd.OutOrStdout(), format, tbl, rows)
}

package cmd

import (
	"encoding/json"
	"fmt"

	"switchboard/internal/aggregator"
	"switchboard/internal/formatting"
	sbstrings "switchboard/pkg/strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools [query]",
		Short: "Search upstream tools",
		Long: `Runs the same search the search tool offers to clients.

Without a query every server is connected and listed. With a query only
favorites and the registry are searched, since a one-shot command starts
with an empty tool cache.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTools,
	}
	cmd.Flags().StringSlice("server", nil, "Restrict to these server ids")
	addOutputFlag(cmd)
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	servers, _ := cmd.Flags().GetStringSlice("server")
	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	application, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	results := application.Broker().Search(cmd.Context(), query, servers)
	if results == nil {
		results = []aggregator.ToolDescriptor{}
	}

	tbl := formatting.Table{
		Headers: []string{"name", "server", "source", "description"},
		Empty:   "No tools found",
	}
	for _, d := range results {
		description := d.Title
		if description == "" {
			description = d.Description
		}
		tbl.Rows = append(tbl.Rows, []string{d.Name, d.ServerID, string(d.Source), sbstrings.TruncateDescription(description, sbstrings.DefaultDescriptionMaxLen)})
	}
	return formatting.Render(cmd.OutOrStdout(), format, tbl, results)
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke an upstream tool",
		Long: `Calls a tool the way the invoke tool does and prints its text content.

--server may be omitted when the tool is a favorite or a registry entry.
Arguments are passed as a JSON object with --args.`,
		Args: cobra.ExactArgs(1),
		RunE: runCall,
	}
	cmd.Flags().String("server", "", "Server id offering the tool")
	cmd.Flags().String("args", "{}", "Tool arguments as a JSON object")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	serverID, _ := cmd.Flags().GetString("server")
	rawArgs, _ := cmd.Flags().GetString("args")

	var toolArgs map[string]interface{}
	if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	application, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	res, err := application.Broker().Invoke(cmd.Context(), serverID, args[0], toolArgs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			fmt.Fprintln(out, text.Text)
			continue
		}
		fmt.Fprintln(out, formatting.PrettyJSON(content))
	}
	if res.IsError {
		return fmt.Errorf("tool %s returned an error", args[0])
	}
	return nil
}

package cmd

import (
	"strconv"

	"switchboard/internal/app"
	"switchboard/internal/formatting"

	"github.com/spf13/cobra"
)

type serverRow struct {
	ID        string `json:"id" yaml:"id"`
	Transport string `json:"transport" yaml:"transport"`
	StartMode string `json:"startMode" yaml:"startMode"`
	OAuth     string `json:"oauth,omitempty" yaml:"oauth,omitempty"`
	Connected bool   `json:"connected" yaml:"connected"`
	Tools     int    `json:"tools" yaml:"tools"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List configured upstream servers",
		Long: `Lists the servers in the configuration file with their transport, start
mode and stored OAuth token state.

With --check every server is connected and its tools are listed, which
reports the tool count or the error for each one.`,
		Args: cobra.NoArgs,
		RunE: runServers,
	}
	cmd.Flags().Bool("check", false, "Connect each server and list its tools")
	addOutputFlag(cmd)
	return cmd
}

func runServers(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	check, _ := cmd.Flags().GetBool("check")

	application, err := loadApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	errs := map[string]string{}
	if check {
		for _, id := range application.Upstreams().ServerIDs() {
			if _, err := application.Upstreams().ListTools(cmd.Context(), id); err != nil {
				errs[id] = err.Error()
			}
		}
	}

	rows := serverRows(application, errs)
	tbl := formatting.Table{
		Headers: []string{"id", "transport", "start", "oauth", "connected", "tools"},
		Empty:   "No servers configured",
	}
	if check {
		tbl.Headers = append(tbl.Headers, "error")
	}
	for _, r := range rows {
		tools := "-"
		if r.Tools >= 0 {
			tools = strconv.Itoa(r.Tools)
		}
		oauthState := r.OAuth
		if oauthState == "" {
			oauthState = "-"
		}
		cells := []string{r.ID, r.Transport, r.StartMode, oauthState, strconv.FormatBool(r.Connected), tools}
		if check {
			cells = append(cells, r.Error)
		}
		tbl.Rows = append(tbl.Rows, cells)
	}
	return formatting.Render(cmd.OutOrStdout(), format, tbl, rows)
}

func serverRows(application *app.Application, errs map[string]string) []serverRow {
	statuses := application.Upstreams().Status()
	rows := make([]serverRow, 0, len(statuses))
	for _, st := range statuses {
		row := serverRow{
			ID:        st.ID,
			Transport: st.Transport,
			StartMode: st.StartMode,
			Connected: st.Connected,
			Tools:     st.Tools,
			Error:     errs[st.ID],
		}
		if st.OAuth {
			row.OAuth = string(application.Tokens().Status(st.ID))
		}
		rows = append(rows, row)
	}
	return rows
}

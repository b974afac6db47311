package cmd

import (
	"switchboard/internal/app"
	"switchboard/internal/formatting"

	"github.com/spf13/cobra"
)

const outputFlag = "output"

// loadApplication builds the application from the command's flags and the
// SWITCHBOARD_* environment.
func loadApplication(cmd *cobra.Command) (*app.Application, error) {
	v, err := app.NewViper(cmd.Flags())
	if err != nil {
		return nil, err
	}
	cfg, err := app.ConfigFromViper(v)
	if err != nil {
		return nil, err
	}
	return app.NewApplication(cfg)
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP(outputFlag, "o", string(formatting.FormatTable), "Output format: table, json or yaml")
}

func outputFormat(cmd *cobra.Command) (formatting.OutputFormat, error) {
	value, _ := cmd.Flags().GetString(outputFlag)
	return formatting.ParseFormat(value)
}

package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Print the configured sources and their endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.SetTitle("%s: %s to %s", cfg.RunName, cfg.DateFrom, cfg.DateTo)
			t.AppendHeader(table.Row{"Source", "Transport", "Endpoint"})
			for _, info := range appInstance.Sources() {
				t.AppendRow(table.Row{info.Name, info.Transport, info.Endpoint})
			}
			t.Render()
			return nil
		},
	}
}

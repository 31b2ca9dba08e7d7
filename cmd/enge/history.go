package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"enge/internal/config"
	"enge/internal/history"
)

func historyCmd() *cobra.Command {
	var (
		n   int
		tag string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded submissions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(config.Overrides{})
			if err != nil {
				return err
			}
			ledger, err := history.Open(cmd.Context(), e.archiveDir())
			if err != nil {
				return err
			}
			defer ledger.Close()
			entries, err := ledger.List(cmd.Context(), n, tag)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No submissions recorded.")
				return nil
			}
			tw := table.NewWriter()
			tw.AppendHeader(table.Row{"Submitted", "Request", "Target", "Plan", "Artifact", "Tag"})
			for _, en := range entries {
				tw.AppendRow(table.Row{
					en.SubmittedAt.Local().Format(time.DateTime),
					en.TaskID,
					en.Compose,
					en.Plan,
					en.ArtifactID,
					en.Tag,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of entries to show")
	cmd.Flags().StringVar(&tag, "tag", "", "only show submissions with this tag")
	return cmd
}

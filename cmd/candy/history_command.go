package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"candybridge/internal/ipc"
	"candybridge/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently journaled events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				if !resp.Enabled {
					fmt.Fprintln(stdout, "Journal is disabled")
					return nil
				}
				if len(resp.Entries) == 0 {
					fmt.Fprintln(stdout, "No events recorded")
					return nil
				}
				fmt.Fprint(stdout, renderTable(
					[]string{"Seq", "Recorded", "Kind", "From", "Detail"},
					historyRows(resp.Entries),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func historyRows(entries []journal.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		from, detail := "", e.Error
		if e.Message != nil {
			from = strconv.FormatInt(e.Message.From, 10)
			detail = fmt.Sprintf("%d: %s", e.Message.Method, e.Message.Body)
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.Seq, 10),
			e.RecordedAt.Local().Format(time.DateTime),
			string(e.Kind),
			from,
			detail,
		})
	}
	return rows
}

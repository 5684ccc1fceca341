package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Show the next run of each update pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]*string
			resp, err := ctx.apiClient().R().
				SetContext(cmd.Context()).
				SetResult(&payload).
				Get("/api/schedule_status")
			if err != nil {
				return fmt.Errorf("fetch schedule: %w", err)
			}
			if resp.IsError() {
				return apiError(resp, "fetch schedule")
			}

			pools := make([]string, 0, len(payload))
			for pool := range payload {
				pools = append(pools, pool)
			}
			sort.Strings(pools)

			rows := make([][]string, 0, len(pools))
			for _, pool := range pools {
				next := "never run"
				if raw := payload[pool]; raw != nil {
					if parsed, err := time.Parse(time.RFC3339, *raw); err == nil {
						next = parsed.Local().Format("2006-01-02 15:04:05")
					} else {
						next = *raw
					}
				}
				rows = append(rows, []string{pool, next})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Pool", "Next Run"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show active and queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload struct {
				Active    []string       `json:"active_jobs"`
				Scheduled []string       `json:"scheduled_jobs"`
				Stats     map[string]int `json:"stats"`
			}
			resp, err := ctx.apiClient().R().
				SetContext(cmd.Context()).
				SetResult(&payload).
				Get("/api/job_status")
			if err != nil {
				return fmt.Errorf("fetch job status: %w", err)
			}
			if resp.IsError() {
				return apiError(resp, "fetch job status")
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Active", colorize) {
				fmt.Fprintln(out, line)
			}
			if len(payload.Active) == 0 {
				fmt.Fprintln(out, "  none")
			}
			for _, job := range payload.Active {
				fmt.Fprintf(out, "  %s\n", job)
			}

			for _, line := range renderSectionHeader("Queued", colorize) {
				fmt.Fprintln(out, line)
			}
			if len(payload.Scheduled) == 0 {
				fmt.Fprintln(out, "  none")
			}
			for _, job := range payload.Scheduled {
				fmt.Fprintf(out, "  %s\n", job)
			}

			if len(payload.Stats) > 0 {
				statuses := make([]string, 0, len(payload.Stats))
				for status := range payload.Stats {
					statuses = append(statuses, status)
				}
				sort.Strings(statuses)

				for _, line := range renderSectionHeader("Totals", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, status := range statuses {
					fmt.Fprintf(out, "  %-16s %d\n", status, payload.Stats[status])
				}
			}
			return nil
		},
	}
}

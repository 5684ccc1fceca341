package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type watchedSeries struct {
	FolderName      string   `json:"series_folder_name"`
	SourceURLs      []string `json:"series_urls"`
	Library         string   `json:"library"`
	UseSolver       bool     `json:"use_solver"`
	Frequency       string   `json:"frequency"`
	DisplaySiteName string   `json:"display_site_name"`
	MissingCount    int      `json:"missing_chapters_count"`
	MissingList     []string `json:"missing_chapters_list"`
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage watched series",
	}

	watchCmd.AddCommand(newWatchListCommand(ctx))
	watchCmd.AddCommand(newWatchAddCommand(ctx))
	watchCmd.AddCommand(newWatchRemoveCommand(ctx))
	watchCmd.AddCommand(newWatchSourceCommands(ctx)...)

	return watchCmd
}

func newWatchListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched series",
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload struct {
				Watched []watchedSeries `json:"watched_urls"`
			}
			resp, err := ctx.apiClient().R().
				SetContext(cmd.Context()).
				SetResult(&payload).
				Get("/api/watched_urls")
			if err != nil {
				return fmt.Errorf("list watched series: %w", err)
			}
			if resp.IsError() {
				return apiError(resp, "list watched series")
			}

			out := cmd.OutOrStdout()
			if len(payload.Watched) == 0 {
				fmt.Fprintln(out, "No series are being watched.")
				return nil
			}

			rows := make([][]string, 0, len(payload.Watched))
			for _, series := range payload.Watched {
				rows = append(rows, []string{
					series.FolderName,
					series.Library,
					series.Frequency,
					series.DisplaySiteName,
					strconv.Itoa(len(series.SourceURLs)),
					strconv.Itoa(series.MissingCount),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Series", "Library", "Frequency", "Site", "Sources", "Missing"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newWatchAddCommand(ctx *commandContext) *cobra.Command {
	var library string
	var title string
	var frequency string
	var noSolver bool

	cmd := &cobra.Command{
		Use:   "add <url> [url...]",
		Short: "Watch a series and start discovery",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			useSolver := !noSolver
			body := map[string]any{
				"source_urls": args,
				"library":     library,
				"title":       strings.TrimSpace(title),
				"frequency":   frequency,
				"use_solver":  useSolver,
			}

			var payload struct {
				JobID      string `json:"job_id"`
				Status     string `json:"status"`
				FolderName string `json:"series_folder_name"`
			}
			resp, err := ctx.apiClient().R().
				SetContext(cmd.Context()).
				SetBody(body).
				SetResult(&payload).
				Post("/api/download")
			if err != nil {
				return fmt.Errorf("add series: %w", err)
			}
			if resp.IsError() {
				return apiError(resp, "add series")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", payload.Status)
			fmt.Fprintf(out, "Series folder: %s\n", payload.FolderName)
			fmt.Fprintf(out, "Job ID: %s\n", payload.JobID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&library, "library", "l", "", "Target library name")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Series title (scraped from the page when omitted)")
	cmd.Flags().StringVarP(&frequency, "frequency", "f", "daily", "Update check frequency (hourly, half_daily, daily, weekly)")
	cmd.Flags().BoolVar(&noSolver, "no-solver", false, "Fetch pages without the anti-bot solver")
	_ = cmd.MarkFlagRequired("library")
	return cmd
}

func newWatchRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <series-folder-name>",
		Short: "Stop watching a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.apiClient().R().
				SetContext(cmd.Context()).
				SetBody(map[string]string{"series_folder_name": args[0]}).
				Delete("/api/watched_urls")
			if err != nil {
				return fmt.Errorf("remove series: %w", err)
			}
			if resp.IsError() {
				return apiError(resp, "remove series")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from the watch list.\n", args[0])
			return nil
		},
	}
}

func newWatchSourceCommands(ctx *commandContext) []*cobra.Command {
	addSource := &cobra.Command{
		Use:   "add-source <series-folder-name> <url>",
		Short: "Add a source URL to a watched series",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.apiClient().R().
				SetContext(cmd.Context()).
				SetBody(map[string]string{
					"series_folder_name": args[0],
					"new_source_url":     args[1],
				}).
				Post("/api/add_source_to_series")
			if err != nil {
				return fmt.Errorf("add source: %w", err)
			}
			if resp.IsError() {
				return apiError(resp, "add source")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Source added.")
			return nil
		},
	}

	removeSource := &cobra.Command{
		Use:   "remove-source <series-folder-name> <url>",
		Short: "Remove a source URL from a watched series",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload struct {
				Message string `json:"message"`
			}
			resp, err := ctx.apiClient().R().
				SetContext(cmd.Context()).
				SetBody(map[string]string{
					"series_folder_name":   args[0],
					"source_url_to_remove": args[1],
				}).
				SetResult(&payload).
				Post("/api/remove_source_from_series")
			if err != nil {
				return fmt.Errorf("remove source: %w", err)
			}
			if resp.IsError() {
				return apiError(resp, "remove source")
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload.Message)
			return nil
		},
	}

	return []*cobra.Command{addSource, removeSource}
}

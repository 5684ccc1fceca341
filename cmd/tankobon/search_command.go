package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type searchResult struct {
	Title       string `json:"title"`
	CoverURL    string `json:"cover_url"`
	SourceURL   string `json:"source_url"`
	Site        string `json:"site"`
	Author      string `json:"author"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var site string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search the configured sites for a series",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := strings.Join(args, " ")

			var payload struct {
				Results []searchResult `json:"results"`
			}
			req := ctx.apiClient().R().
				SetContext(cmd.Context()).
				SetQueryParam("term", term).
				SetResult(&payload)
			if site != "" {
				req.SetQueryParam("site", site)
			}
			if limit > 0 {
				req.SetQueryParam("limit", strconv.Itoa(limit))
			}

			resp, err := req.Get("/api/search")
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if resp.IsError() {
				return apiError(resp, "search")
			}

			out := cmd.OutOrStdout()
			if len(payload.Results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}

			rows := make([][]string, 0, len(payload.Results))
			for _, result := range payload.Results {
				rows = append(rows, []string{
					result.Title,
					result.Site,
					result.Status,
					result.SourceURL,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Title", "Site", "Status", "URL"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&site, "site", "s", "", "Restrict the search to one site")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results per site")
	return cmd
}

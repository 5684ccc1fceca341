// Package search queries every configured site for a series title and
// gathers the results.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tankobon/internal/config"
	"tankobon/internal/logging"
	"tankobon/internal/scrape"
	"tankobon/internal/solver"
)

// DefaultLimit is the per-site result cap when the caller does not ask
// for a specific one.
const DefaultLimit = 10

// AllSites is the filter value meaning no site filter.
const AllSites = "All Sites"

// Result is one search hit on one site.
type Result struct {
	Title       string `json:"title"`
	CoverURL    string `json:"cover_url,omitempty"`
	SourceURL   string `json:"source_url"`
	Site        string `json:"site"`
	Author      string `json:"author,omitempty"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

// Searcher fans a search term out to all configured sites.
type Searcher struct {
	cfg    *config.Config
	solve  solver.Client
	http   *resty.Client
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string][]Result
}

// New constructs a searcher.
func New(cfg *config.Config, solve solver.Client, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Searcher{
		cfg:    cfg,
		solve:  solve,
		http:   resty.New().SetTimeout(30 * time.Second),
		logger: logging.NewComponentLogger(logger, "search"),
		cache:  make(map[string][]Result),
	}
}

// Search runs the term against every configured site in parallel and
// returns the gathered results. A site that fails contributes nothing;
// the search itself only fails when the sites configuration is broken.
// Unfiltered default-limit searches are cached by term.
func (s *Searcher) Search(ctx context.Context, term, siteFilter string, limit int) ([]Result, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("search term required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	unfiltered := siteFilter == "" || siteFilter == AllSites

	if unfiltered && limit == DefaultLimit {
		s.mu.Lock()
		cached, ok := s.cache[term]
		s.mu.Unlock()
		if ok {
			return cached, nil
		}
	}

	sites, err := scrape.LoadSites(s.cfg.Paths.SitesConfig)
	if err != nil {
		return nil, err
	}
	if !unfiltered {
		if site := sites.ByName(siteFilter); site != nil {
			sites = scrape.Sites{*site}
		} else {
			return nil, fmt.Errorf("unknown site %q", siteFilter)
		}
	}

	perSite := make([][]Result, len(sites))
	var wg sync.WaitGroup
	wg.Add(len(sites))
	for i := range sites {
		go func(i int) {
			defer wg.Done()
			results, err := s.searchSite(ctx, &sites[i], term, limit)
			if err != nil {
				s.logger.Warn("site search failed",
					logging.String("site", sites[i].Name),
					logging.Error(err),
				)
				return
			}
			perSite[i] = results
		}(i)
	}
	wg.Wait()

	var all []Result
	for _, results := range perSite {
		all = append(all, results...)
	}

	if unfiltered && limit == DefaultLimit {
		s.mu.Lock()
		s.cache[term] = all
		s.mu.Unlock()
	}
	return all, nil
}

func (s *Searcher) searchSite(ctx context.Context, site *scrape.Site, term string, limit int) ([]Result, error) {
	// MangaDex exposes a real API; everything else is scraped.
	if site.Name == "Mangadex" {
		return s.searchMangaDex(ctx, term, limit)
	}
	return s.searchSelectorSite(ctx, site, term, limit)
}

func (s *Searcher) searchSelectorSite(ctx context.Context, site *scrape.Site, term string, limit int) ([]Result, error) {
	session, err := s.solve.Solve(ctx, site.SearchURL(term))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(session.HTML))
	if err != nil {
		return nil, err
	}

	selectors := site.Selectors
	var results []Result
	doc.Find(selectors.ResultsContainer).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		title := strings.TrimSpace(sel.Find(selectors.ResultTitle).First().Text())
		href, _ := sel.Find(selectors.ResultURL).First().Attr("href")
		if title == "" || href == "" {
			return true
		}
		result := Result{
			Title:     title,
			SourceURL: resolveAgainst(session.URL, href),
			Site:      site.Name,
		}
		if src, ok := sel.Find(selectors.ResultCover).First().Attr("src"); ok && src != "" {
			result.CoverURL = resolveAgainst(session.URL, src)
		}
		results = append(results, result)
		return true
	})
	return results, nil
}

type mangaDexResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Title       map[string]string `json:"title"`
			Status      string            `json:"status"`
			Description map[string]string `json:"description"`
		} `json:"attributes"`
		Relationships []struct {
			Type       string `json:"type"`
			Attributes struct {
				Name     string `json:"name"`
				FileName string `json:"fileName"`
			} `json:"attributes"`
		} `json:"relationships"`
	} `json:"data"`
}

// mangaDexBaseURL is a variable so tests can point the client at a stub.
var mangaDexBaseURL = "https://api.mangadex.org"

func (s *Searcher) searchMangaDex(ctx context.Context, term string, limit int) ([]Result, error) {
	var payload mangaDexResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("title", term).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetQueryParamsFromValues(map[string][]string{"includes[]": {"author", "cover_art"}}).
		SetResult(&payload).
		Get(mangaDexBaseURL + "/manga")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("search API returned HTTP %d", resp.StatusCode())
	}

	results := make([]Result, 0, len(payload.Data))
	for _, entry := range payload.Data {
		result := Result{
			Title:       entry.Attributes.Title["en"],
			SourceURL:   fmt.Sprintf("https://mangadex.org/title/%s", entry.ID),
			Site:        "Mangadex",
			Status:      cases.Title(language.English).String(entry.Attributes.Status),
			Description: entry.Attributes.Description["en"],
		}
		for _, rel := range entry.Relationships {
			switch rel.Type {
			case "author":
				result.Author = rel.Attributes.Name
			case "cover_art":
				if rel.Attributes.FileName != "" {
					result.CoverURL = fmt.Sprintf("https://uploads.mangadex.org/covers/%s/%s", entry.ID, rel.Attributes.FileName)
				}
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func resolveAgainst(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// Package solver talks to a FlareSolverr instance to fetch pages behind
// anti-bot challenges and to mint reusable browser sessions.
package solver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"tankobon/internal/config"
)

// Cookie is one browser cookie captured by the solver.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	Expiry   float64 `json:"expiry"`
}

// Session holds everything a challenge solve yields: the rendered page,
// the browser identity, and the cookies that keep it valid.
type Session struct {
	URL       string
	HTML      string
	UserAgent string
	Cookies   []Cookie
}

// CookieMap returns the session cookies as a name to value map.
func (s *Session) CookieMap() map[string]string {
	out := make(map[string]string, len(s.Cookies))
	for _, c := range s.Cookies {
		out[c.Name] = c.Value
	}
	return out
}

// WriteCookieFile writes the session cookies in Netscape format so external
// tools can reuse them. Returns the file path; the caller removes it.
func (s *Session) WriteCookieFile(dir string) (string, error) {
	file, err := os.CreateTemp(dir, "cookies-*.txt")
	if err != nil {
		return "", fmt.Errorf("create cookie file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	for _, c := range s.Cookies {
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		fmt.Fprintf(&sb, "%s\tTRUE\t%s\t%s\t%d\t%s\t%s\n",
			c.Domain, c.Path, secure, int64(c.Expiry), c.Name, c.Value)
	}
	if _, err := file.WriteString(sb.String()); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("write cookie file: %w", err)
	}
	return file.Name(), nil
}

// FetcherArgs returns command line arguments that make the fetcher reuse
// this session's browser identity. The cookie file at the returned path
// must be removed by the caller.
func (s *Session) FetcherArgs(dir string) ([]string, string, error) {
	cookiePath, err := s.WriteCookieFile(dir)
	if err != nil {
		return nil, "", err
	}
	return []string{"--user-agent", s.UserAgent, "--cookies", cookiePath}, cookiePath, nil
}

// Client defines solver behaviour.
type Client interface {
	Solve(ctx context.Context, targetURL string) (*Session, error)
}

// HTTPClient talks to a FlareSolverr endpoint.
type HTTPClient struct {
	endpoint   string
	maxSolveMS int
	http       *resty.Client
}

// New constructs a solver client from daemon configuration.
func New(cfg *config.Config) *HTTPClient {
	timeout := time.Duration(cfg.Solver.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 65 * time.Second
	}
	maxSolve := cfg.Solver.MaxSolveMS
	if maxSolve <= 0 {
		maxSolve = 60000
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPClient{
		endpoint:   cfg.Solver.URL,
		maxSolveMS: maxSolve,
		http:       client,
	}
}

type solveRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int    `json:"maxTimeout"`
}

type solveResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL       string   `json:"url"`
		Status    int      `json:"status"`
		Response  string   `json:"response"`
		UserAgent string   `json:"userAgent"`
		Cookies   []Cookie `json:"cookies"`
	} `json:"solution"`
}

// Solve requests the target URL through the solver browser and returns the
// resulting session.
func (c *HTTPClient) Solve(ctx context.Context, targetURL string) (*Session, error) {
	if strings.TrimSpace(targetURL) == "" {
		return nil, fmt.Errorf("solver: target url required")
	}

	var result solveResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(solveRequest{Cmd: "request.get", URL: targetURL, MaxTimeout: c.maxSolveMS}).
		SetResult(&result).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("solver request for %s: %w", targetURL, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("solver returned HTTP %d for %s", resp.StatusCode(), targetURL)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("solver failed for %s: %s", targetURL, result.Message)
	}

	return &Session{
		URL:       result.Solution.URL,
		HTML:      result.Solution.Response,
		UserAgent: result.Solution.UserAgent,
		Cookies:   result.Solution.Cookies,
	}, nil
}

var _ Client = (*HTTPClient)(nil)

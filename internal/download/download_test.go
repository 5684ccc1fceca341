package download_test

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tankobon/internal/download"
	"tankobon/internal/logging"
	"tankobon/internal/notifications"
	"tankobon/internal/queue"
	"tankobon/internal/solver"
	"tankobon/internal/testsupport"
)

type fakeFetcher struct {
	directErr   error
	solverErr   error
	directEmpty bool
	solverEmpty bool
	calls       [][]string
}

func (f *fakeFetcher) Discover(ctx context.Context, seriesURL string, extraArgs []string) ([]byte, error) {
	return nil, errors.New("not used")
}

func (f *fakeFetcher) Download(ctx context.Context, chapterURL, destDir string, extraArgs []string) error {
	f.calls = append(f.calls, append([]string(nil), extraArgs...))
	assisted := len(extraArgs) > 0
	if assisted {
		if f.solverErr != nil {
			return f.solverErr
		}
		if !f.solverEmpty {
			return os.WriteFile(filepath.Join(destDir, "001.jpg"), []byte("img"), 0o644)
		}
		return nil
	}
	if f.directErr != nil {
		return f.directErr
	}
	if !f.directEmpty {
		return os.WriteFile(filepath.Join(destDir, "001.jpg"), []byte("img"), 0o644)
	}
	return nil
}

type fakeSolver struct {
	err     error
	session *solver.Session
	calls   int
}

func (f *fakeSolver) Solve(ctx context.Context, targetURL string) (*solver.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func testSession() *solver.Session {
	return &solver.Session{
		UserAgent: "Mozilla/5.0 TestBrowser",
		Cookies:   []solver.Cookie{{Name: "cf", Value: "v", Domain: ".example.com", Path: "/"}},
	}
}

func TestRunDirectSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	seriesPath := t.TempDir()
	fetch := &fakeFetcher{}
	task := download.NewTask(cfg, fetch, &fakeSolver{session: testSession()}, notifications.NewNoop(), logging.NewNop())

	result, err := task.Run(context.Background(), download.Request{
		URL:         "https://example.com/c/15",
		SeriesPath:  seriesPath,
		ChapterName: "Chapter 0015",
		UseSolver:   true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != "Completed" {
		t.Fatalf("unexpected result %#v", result)
	}

	archive := filepath.Join(seriesPath, "Chapter 0015.cbz")
	reader, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()
	names := make(map[string]bool)
	for _, file := range reader.File {
		names[file.Name] = true
	}
	if !names["001.jpg"] || !names["ComicInfo.xml"] {
		t.Fatalf("archive incomplete: %v", names)
	}

	if _, err := os.Stat(filepath.Join(seriesPath, "Chapter 0015")); !os.IsNotExist(err) {
		t.Fatal("staging directory was not cleaned up")
	}
}

func TestRunFallsBackToSolver(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	seriesPath := t.TempDir()
	fetch := &fakeFetcher{directErr: errors.New("403")}
	solve := &fakeSolver{session: testSession()}
	task := download.NewTask(cfg, fetch, solve, notifications.NewNoop(), logging.NewNop())

	_, err := task.Run(context.Background(), download.Request{
		URL:         "https://example.com/c/1",
		SeriesPath:  seriesPath,
		ChapterName: "Chapter 0001",
		UseSolver:   true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if solve.calls != 1 {
		t.Fatalf("expected one solver session, got %d", solve.calls)
	}
	if len(fetch.calls) != 2 {
		t.Fatalf("expected two fetch attempts, got %d", len(fetch.calls))
	}
	assisted := fetch.calls[1]
	if len(assisted) < 4 || assisted[0] != "--user-agent" || assisted[2] != "--cookies" {
		t.Fatalf("expected session arguments on retry, got %v", assisted)
	}
}

func TestRunSolverDisabledFailureIsRetryable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fetch := &fakeFetcher{directErr: errors.New("timeout")}
	task := download.NewTask(cfg, fetch, &fakeSolver{}, notifications.NewNoop(), logging.NewNop())

	_, err := task.Run(context.Background(), download.Request{
		URL:         "https://example.com/c/1",
		SeriesPath:  t.TempDir(),
		ChapterName: "Chapter 0001",
		UseSolver:   false,
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if queue.IsTerminal(err) {
		t.Fatal("expected a retryable error, got terminal")
	}
}

func TestRunEmptyAfterSuccessIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fetch := &fakeFetcher{directErr: errors.New("403"), solverEmpty: true}
	task := download.NewTask(cfg, fetch, &fakeSolver{session: testSession()}, notifications.NewNoop(), logging.NewNop())

	_, err := task.Run(context.Background(), download.Request{
		URL:         "https://example.com/c/1",
		SeriesPath:  t.TempDir(),
		ChapterName: "Chapter 0001",
		UseSolver:   true,
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !queue.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestMaxAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workers.DownloadRetries = 3
	if got := download.MaxAttempts(cfg); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	cfg.Workers.DownloadRetries = -1
	if got := download.MaxAttempts(cfg); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

package feed

import (
	"path/filepath"
	"testing"

	"github.com/feedshed/feedshed/app/cfg"
	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/sanitize"
)

func setTestCfg(t *testing.T, mutate func(*cfg.Cfg)) {
	t.Helper()

	c := &cfg.Cfg{
		UserAgent:         "Feedshed/test",
		ServerURL:         "https://example.com/feedshed",
		FetchRate:         1000, // effectively unlimited in tests
		BatchSize:         30,
		WorkerCount:       1,
		SchedulerInterval: 60,
		ProxyListURL:      "http://127.0.0.1:1/proxy-list.txt",
	}
	if mutate != nil {
		mutate(c)
	}
	cfg.Set(c)
}

func newTestRepos(t *testing.T) (database.SourceRepository, database.PostRepository, database.ProxyRepository) {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return database.NewSourceRepository(db), database.NewPostRepository(db), database.NewProxyRepository(db)
}

func newTestSanitizer() *sanitize.Sanitizer {
	return sanitize.New(sanitize.DefaultPolicy())
}

func createTestSource(t *testing.T, repo database.SourceRepository, mutate func(*database.Source)) *database.Source {
	t.Helper()

	src := &database.Source{
		Name:          "Test Source",
		Slug:          "test-source",
		FeedURL:       "https://example.com/feed.xml",
		SiteURL:       "https://example.com",
		Interval:      60,
		Live:          true,
		UpdateEnabled: true,
	}
	if mutate != nil {
		mutate(src)
	}

	if err := repo.CreateSource(src); err != nil {
		t.Fatalf("Failed to create test source: %v", err)
	}
	return src
}

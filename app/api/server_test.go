package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/tasks"
)

type stubScheduler struct {
	polled []string
	fail   bool
}

var _ tasks.TaskSchedulerInterface = (*stubScheduler)(nil)

func (s *stubScheduler) Start() {}
func (s *stubScheduler) Stop()  {}
func (s *stubScheduler) EnqueueTask(tasks.TaskInterface) error {
	return nil
}
func (s *stubScheduler) EnqueueForcePoll(slug string) error {
	if s.fail {
		return errors.New("task queue is full")
	}
	s.polled = append(s.polled, slug)
	return nil
}
func (s *stubScheduler) QueueDepth() int { return 0 }

func newTestServer(t *testing.T, scheduler tasks.TaskSchedulerInterface) (*gin.Engine, database.SourceRepository) {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	sources := database.NewSourceRepository(db)
	posts := database.NewPostRepository(db)
	proxies := database.NewProxyRepository(db)

	handler := NewHandler(sources, posts, proxies, scheduler, "test")
	return NewServer(handler, "secret-key"), sources
}

func createAPITestSource(t *testing.T, repo database.SourceRepository) *database.Source {
	t.Helper()

	src := &database.Source{
		Name:          "API Test",
		Slug:          "api-test",
		FeedURL:       "https://example.com/feed.xml",
		Live:          true,
		UpdateEnabled: true,
	}
	if err := repo.CreateSource(src); err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	return src
}

func TestGetHealth(t *testing.T) {
	server, repo := newTestServer(t, &stubScheduler{})
	createAPITestSource(t, repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["version"] != "test" {
		t.Errorf("Expected version 'test', got: %v", body["version"])
	}
	if body["sources"] != float64(1) {
		t.Errorf("Expected 1 source, got: %v", body["sources"])
	}
}

func TestAPIRequiresKey(t *testing.T) {
	server, _ := newTestServer(t, &stubScheduler{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sources", nil)
	server.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got: %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/sources", nil)
	req.Header.Set("X-API-Key", "wrong")
	server.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong key, got: %d", w.Code)
	}
}

func TestAPIBearerToken(t *testing.T) {
	server, _ := newTestServer(t, &stubScheduler{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sources", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with bearer token, got: %d", w.Code)
	}
}

func TestAPIGetSource(t *testing.T) {
	server, repo := newTestServer(t, &stubScheduler{})
	createAPITestSource(t, repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sources/api-test", nil)
	req.Header.Set("X-API-Key", "secret-key")
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["slug"] != "api-test" {
		t.Errorf("Expected slug 'api-test', got: %v", body["slug"])
	}
	if body["post_count"] != float64(0) {
		t.Errorf("Expected 0 posts, got: %v", body["post_count"])
	}
}

func TestAPIGetSourceNotFound(t *testing.T) {
	server, _ := newTestServer(t, &stubScheduler{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sources/nope", nil)
	req.Header.Set("X-API-Key", "secret-key")
	server.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got: %d", w.Code)
	}
}

func TestAPIForcePoll(t *testing.T) {
	scheduler := &stubScheduler{}
	server, repo := newTestServer(t, scheduler)
	createAPITestSource(t, repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/sources/api-test/poll", nil)
	req.Header.Set("X-API-Key", "secret-key")
	server.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got: %d", w.Code)
	}
	if len(scheduler.polled) != 1 || scheduler.polled[0] != "api-test" {
		t.Errorf("Expected one enqueued poll, got: %v", scheduler.polled)
	}
}

func TestAPIForcePollQueueFull(t *testing.T) {
	server, repo := newTestServer(t, &stubScheduler{fail: true})
	createAPITestSource(t, repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/sources/api-test/poll", nil)
	req.Header.Set("X-API-Key", "secret-key")
	server.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got: %d", w.Code)
	}
}

func TestAPIForcePollUnknownSource(t *testing.T) {
	server, _ := newTestServer(t, &stubScheduler{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/sources/nope/poll", nil)
	req.Header.Set("X-API-Key", "secret-key")
	server.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got: %d", w.Code)
	}
}

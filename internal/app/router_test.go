package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/mailmind-app/mailmind/internal/adapter/httpserver"
	"github.com/mailmind-app/mailmind/internal/config"
	"github.com/mailmind-app/mailmind/internal/domain"
	"github.com/mailmind-app/mailmind/internal/usecase"
)

type noopLifecycle struct{}

func (noopLifecycle) RequestIndex(string) {}
func (noopLifecycle) State(string) domain.IndexState {
	return domain.IndexState{Status: domain.IndexIdle}
}
func (noopLifecycle) Running() bool { return true }
func (noopLifecycle) Status(domain.Context, domain.User) (usecase.LifecycleStatus, error) {
	return usecase.LifecycleStatus{Status: domain.IndexIdle}, nil
}

type noopPoller struct{}

func (noopPoller) PollOnce(domain.Context, domain.User) (int, error) { return 0, nil }
func (noopPoller) Statuses() map[string]usecase.PollerStatus         { return nil }

type noopCache struct{}

func (noopCache) Len() int { return 0 }

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Config{JWTSecret: "secret", RateLimitPerMin: 100}
	srv := &httpserver.Server{
		Cfg:       cfg,
		Lifecycle: noopLifecycle{},
		Poller:    noopPoller{},
		Cache:     noopCache{},
	}
	return BuildRouter(cfg, srv)
}

func Test_ParseOrigins(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, ParseOrigins(" https://a.com, https://b.com "))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
}

func Test_Router_Healthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_Router_RagHealthUnauthenticated(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rag/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "background_thread_alive")
}

func Test_Router_StatusRequiresAuth(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rag/status", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_Router_Metrics(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

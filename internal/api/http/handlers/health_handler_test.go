package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-triage/internal/persistence"
)

type brokenDependency struct{}

func (brokenDependency) Enabled() bool                { return true }
func (brokenDependency) Ping(_ context.Context) error { return errors.New("connection refused") }

func getHealth(t *testing.T, h *HealthHandler, path string) (int, string) {
	t.Helper()
	app := fiber.New()
	app.Get("/live", h.Live)
	app.Get("/ready", h.Ready)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealth_ReadyWithRedisAndDisabledPostgres(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := NewHealthHandler("svc", "v1", map[string]Dependency{
		"postgres": &persistence.Postgres{},
		"redis":    &persistence.Redis{Client: client},
	})

	status, body := getHealth(t, h, "/ready")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"redis":"ok"`)
	assert.Contains(t, body, `"postgres":"disabled"`)
}

func TestHealth_NotReadyWhenDependencyFails(t *testing.T) {
	t.Parallel()
	h := NewHealthHandler("svc", "v1", map[string]Dependency{"redis": brokenDependency{}})

	status, body := getHealth(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "DEPENDENCY_UNAVAILABLE")
	assert.Contains(t, body, "connection refused")
}

func TestHealth_Live(t *testing.T) {
	t.Parallel()
	h := NewHealthHandler("svc", "v1", nil)

	status, body := getHealth(t, h, "/live")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"service":"svc"`)
}

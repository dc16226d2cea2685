package ports_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Amund211/stockpile/internal/app"
	"github.com/Amund211/stockpile/internal/ports"
	"github.com/stretchr/testify/require"
)

func TestMakeReleaseAllHandler(t *testing.T) {
	t.Parallel()

	calls := 0
	handler := ports.MakeReleaseAllHandler(func() app.ReleaseSummary {
		calls++
		return app.ReleaseSummary{Entries: 4, PooledInstances: 2, ActiveInstances: 1}
	}, testLogger, noopMiddleware)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/v1/release-all", nil))

	require.Equal(t, 1, calls)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"entries":4,"pooledInstances":2,"activeInstances":1}`, w.Body.String())
}

func TestMakeLowMemoryHandler(t *testing.T) {
	t.Parallel()

	handler := ports.MakeLowMemoryHandler(func() app.SweepSummary {
		return app.SweepSummary{FreedKeys: []string{"address:a.png", "label:ui"}, TrimmedInstances: 3}
	}, testLogger, noopMiddleware)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/v1/low-memory", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"freedKeys":["address:a.png","label:ui"],"trimmedInstances":3}`, w.Body.String())
}

func TestMakeDumpHandler(t *testing.T) {
	t.Parallel()

	dump := "cache: 0/50 entries\npools: 0 keys\nactive instances: 0\n"
	handler := ports.MakeDumpHandler(func() string {
		return dump
	}, testLogger, noopMiddleware)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/debug/dump", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/plain; charset=utf-8", w.Result().Header.Get("Content-Type"))
	require.Equal(t, dump, w.Body.String())
}

package ports_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/domaintest"
	"github.com/Amund211/stockpile/internal/ports"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func noopMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(w, r)
	}
}

var loadedAt = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func makeKeyRequest(method, prefix, rawKey string) *http.Request {
	req := httptest.NewRequest(method, prefix+rawKey, nil)
	req.SetPathValue("key", rawKey)
	return req
}

func TestMakeLoadAssetHandler(t *testing.T) {
	t.Parallel()

	makeLoadAsset := func(t *testing.T, expectedKey domain.Key, err error) (func(context.Context, domain.Key, time.Duration) (domain.Asset, error), *bool) {
		called := false
		return func(ctx context.Context, key domain.Key, timeout time.Duration) (domain.Asset, error) {
			t.Helper()
			require.Equal(t, expectedKey, key)
			called = true
			if err != nil {
				return domain.Asset{}, err
			}
			return domaintest.NewAssetBuilder(key, loadedAt).Build(), nil
		}, &called
	}

	t.Run("load by label", func(t *testing.T) {
		t.Parallel()

		loadAsset, called := makeLoadAsset(t, domain.LabelKey("cards"), nil)
		handler := ports.MakeLoadAssetHandler(loadAsset, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeKeyRequest("POST", "/v1/assets/load/", "label:cards"))

		require.True(t, *called)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/json", w.Result().Header.Get("Content-Type"))
		require.JSONEq(t, `{
			"key": "label:cards",
			"address": "resolved/cards",
			"contentType": "application/octet-stream",
			"size": 26,
			"loadedAt": "2026-03-14T15:09:26Z"
		}`, w.Body.String())
	})

	t.Run("contents on request", func(t *testing.T) {
		t.Parallel()

		key := domain.AddressKey("prefabs/card.png")
		loadAsset, _ := makeLoadAsset(t, key, nil)
		handler := ports.MakeLoadAssetHandler(loadAsset, testLogger, noopMiddleware)

		req := makeKeyRequest("POST", "/v1/assets/load/", "prefabs/card.png")
		req.URL.RawQuery = "data=true"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data []byte `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Equal(t, "contents of prefabs/card.png", string(response.Data))
	})

	t.Run("timeout from query", func(t *testing.T) {
		t.Parallel()

		var timeouts []time.Duration
		handler := ports.MakeLoadAssetHandler(func(ctx context.Context, key domain.Key, timeout time.Duration) (domain.Asset, error) {
			timeouts = append(timeouts, timeout)
			return domaintest.NewAssetBuilder(key, loadedAt).Build(), nil
		}, testLogger, noopMiddleware)

		for _, query := range []string{"", "timeoutMs=250"} {
			req := makeKeyRequest("POST", "/v1/assets/load/", "label:cards")
			req.URL.RawQuery = query
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code, query)
		}
		require.Equal(t, []time.Duration{0, 250 * time.Millisecond}, timeouts)
	})

	t.Run("invalid timeout", func(t *testing.T) {
		t.Parallel()

		loadAsset, called := makeLoadAsset(t, domain.LabelKey("cards"), nil)
		handler := ports.MakeLoadAssetHandler(loadAsset, testLogger, noopMiddleware)

		for _, query := range []string{"timeoutMs=soon", "timeoutMs=0", "timeoutMs=-5", "timeoutMs=600000"} {
			req := makeKeyRequest("POST", "/v1/assets/load/", "label:cards")
			req.URL.RawQuery = query
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			require.Equal(t, http.StatusBadRequest, w.Code, query)
		}
		require.False(t, *called)
	})

	t.Run("invalid key", func(t *testing.T) {
		t.Parallel()

		loadAsset, called := makeLoadAsset(t, domain.Key{}, nil)
		handler := ports.MakeLoadAssetHandler(loadAsset, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeKeyRequest("POST", "/v1/assets/load/", "label:"))

		require.False(t, *called)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	cases := []struct {
		name       string
		err        error
		statusCode int
	}{
		{
			name:       "asset not found",
			err:        domain.NewLoadError(domain.AddressKey("a.png"), domain.ErrAssetNotFound),
			statusCode: http.StatusNotFound,
		},
		{
			name:       "timeout",
			err:        fmt.Errorf("%w after 5s", domain.ErrTimeout),
			statusCode: http.StatusGatewayTimeout,
		},
		{
			name:       "backend failure",
			err:        domain.NewLoadError(domain.AddressKey("a.png"), fmt.Errorf("connection refused")),
			statusCode: http.StatusBadGateway,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			loadAsset, called := makeLoadAsset(t, domain.AddressKey("a.png"), c.err)
			handler := ports.MakeLoadAssetHandler(loadAsset, testLogger, noopMiddleware)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, makeKeyRequest("POST", "/v1/assets/load/", "a.png"))

			require.True(t, *called)
			require.Equal(t, c.statusCode, w.Code)
		})
	}
}

func TestMakeUnloadAssetHandler(t *testing.T) {
	t.Parallel()

	t.Run("unload", func(t *testing.T) {
		t.Parallel()

		var unloaded domain.Key
		handler := ports.MakeUnloadAssetHandler(func(key domain.Key) error {
			unloaded = key
			return nil
		}, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeKeyRequest("POST", "/v1/assets/unload/", "reference:8F1C"))

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, domain.ReferenceKey("8f1c"), unloaded)
	})

	t.Run("not loaded", func(t *testing.T) {
		t.Parallel()

		handler := ports.MakeUnloadAssetHandler(func(key domain.Key) error {
			return fmt.Errorf("Release %s: %w", key, domain.ErrKeyNotFound)
		}, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeKeyRequest("POST", "/v1/assets/unload/", "a.png"))

		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

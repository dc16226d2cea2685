package ports_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/ports"
	"github.com/stretchr/testify/require"
)

const instanceID = "0b7a6c1e-5d0f-4a8e-9c3b-2f1d4e6a8b9c"

func TestMakeInstantiateHandler(t *testing.T) {
	t.Parallel()

	key := domain.AddressKey("prefabs/card.png")

	makeInstantiate := func(t *testing.T, expectedPlacement domain.Placement, err error) (func(context.Context, domain.Key, domain.Placement, time.Duration) (domain.Instance, error), *bool) {
		called := false
		return func(ctx context.Context, k domain.Key, placement domain.Placement, timeout time.Duration) (domain.Instance, error) {
			t.Helper()
			require.Equal(t, key, k)
			require.Equal(t, expectedPlacement, placement)
			called = true
			if err != nil {
				return domain.Instance{}, err
			}
			return domain.Instance{ID: instanceID, Key: k, Address: k.Value(), CreatedAt: loadedAt}, nil
		}, &called
	}

	makeRequest := func(body string) *http.Request {
		req := httptest.NewRequest("POST", "/v1/instances/prefabs/card.png", strings.NewReader(body))
		req.SetPathValue("key", "prefabs/card.png")
		return req
	}

	t.Run("default placement", func(t *testing.T) {
		t.Parallel()

		instantiate, called := makeInstantiate(t, domain.Placement{Rotation: domain.IdentityRotation}, nil)
		handler := ports.MakeInstantiateHandler(instantiate, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeRequest(""))

		require.True(t, *called)
		require.Equal(t, http.StatusCreated, w.Code)
		require.JSONEq(t, fmt.Sprintf(`{
			"id": "%s",
			"key": "address:prefabs/card.png",
			"address": "prefabs/card.png",
			"createdAt": "2026-03-14T15:09:26Z"
		}`, instanceID), w.Body.String())
	})

	t.Run("explicit placement", func(t *testing.T) {
		t.Parallel()

		placement := domain.Placement{
			Position: [3]float64{1, 2.5, -3},
			Rotation: [4]float64{0, 0.7071, 0, 0.7071},
			Parent:   "table",
		}
		instantiate, called := makeInstantiate(t, placement, nil)
		handler := ports.MakeInstantiateHandler(instantiate, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeRequest(`{"position":[1,2.5,-3],"rotation":[0,0.7071,0,0.7071],"parent":"table"}`))

		require.True(t, *called)
		require.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("invalid placement", func(t *testing.T) {
		t.Parallel()

		instantiate, called := makeInstantiate(t, domain.Placement{}, nil)
		handler := ports.MakeInstantiateHandler(instantiate, testLogger, noopMiddleware)

		for _, body := range []string{`{"position":"here"}`, `{"scale":2}`, `[`} {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, makeRequest(body))
			require.Equal(t, http.StatusBadRequest, w.Code, body)
		}
		require.False(t, *called)
	})

	t.Run("timeout from query", func(t *testing.T) {
		t.Parallel()

		var received time.Duration
		handler := ports.MakeInstantiateHandler(func(ctx context.Context, k domain.Key, placement domain.Placement, timeout time.Duration) (domain.Instance, error) {
			received = timeout
			return domain.Instance{}, fmt.Errorf("failed to instantiate %s: %w after %s", k, domain.ErrTimeout, timeout)
		}, testLogger, noopMiddleware)

		req := makeRequest("")
		req.URL.RawQuery = "timeoutMs=1500"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, 1500*time.Millisecond, received)
		require.Equal(t, http.StatusGatewayTimeout, w.Code)

		req = makeRequest("")
		req.URL.RawQuery = "timeoutMs=1.5s"
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("instantiate failed", func(t *testing.T) {
		t.Parallel()

		instantiate, called := makeInstantiate(t, domain.Placement{Rotation: domain.IdentityRotation}, domain.NewLoadError(key, fmt.Errorf("no room in scene")))
		handler := ports.MakeInstantiateHandler(instantiate, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeRequest(""))

		require.True(t, *called)
		require.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestMakeReleaseInstanceHandler(t *testing.T) {
	t.Parallel()

	makeRequest := func(rawID string) *http.Request {
		req := httptest.NewRequest("DELETE", "/v1/instances/"+rawID, nil)
		req.SetPathValue("id", rawID)
		return req
	}

	t.Run("released", func(t *testing.T) {
		t.Parallel()

		var released string
		handler := ports.MakeReleaseInstanceHandler(func(ctx context.Context, id string) error {
			released = id
			return nil
		}, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeRequest(strings.ToUpper(instanceID)))

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, instanceID, released)
	})

	t.Run("unknown instance", func(t *testing.T) {
		t.Parallel()

		handler := ports.MakeReleaseInstanceHandler(func(ctx context.Context, id string) error {
			return fmt.Errorf("release instance %s: %w", id, domain.ErrInstanceNotFound)
		}, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeRequest(instanceID))

		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		t.Parallel()

		called := false
		handler := ports.MakeReleaseInstanceHandler(func(ctx context.Context, id string) error {
			called = true
			return nil
		}, testLogger, noopMiddleware)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeRequest("not-an-id"))

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.False(t, called)
	})
}

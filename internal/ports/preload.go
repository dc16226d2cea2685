package ports

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Amund211/stockpile/internal/app"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/logging"
)

const (
	maxPreloadBodyBytes = 64 << 10
	maxPreloadKeys      = 500
)

type preloadRequest struct {
	Keys []string `json:"keys"`
}

type preloadResponse struct {
	Requested int      `json:"requested"`
	Errors    []string `json:"errors"`
}

func MakePreloadHandler(
	preload app.PreloadAssets,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("preload", adminLimits, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		timeout, ok := timeoutFromRequest(w, r)
		if !ok {
			return
		}

		var request preloadRequest
		err := json.NewDecoder(io.LimitReader(r.Body, maxPreloadBodyBytes)).Decode(&request)
		if err != nil {
			statusCode := http.StatusBadRequest
			logging.FromContext(ctx).Info("Invalid preload request. Returning error", "statusCode", statusCode, "reason", err.Error())
			http.Error(w, "Invalid request body", statusCode)
			return
		}
		if len(request.Keys) > maxPreloadKeys {
			statusCode := http.StatusBadRequest
			logging.FromContext(ctx).Info("Too many keys. Returning error", "statusCode", statusCode, "count", len(request.Keys))
			http.Error(w, "Too many keys", statusCode)
			return
		}

		keys := make([]domain.Key, 0, len(request.Keys))
		for _, rawKey := range request.Keys {
			key, err := domain.ParseKey(rawKey)
			if err != nil {
				statusCode := http.StatusBadRequest
				logging.FromContext(ctx).Info("Invalid key. Returning error", "statusCode", statusCode, "rawKey", rawKey)
				http.Error(w, "Invalid key: "+rawKey, statusCode)
				return
			}
			keys = append(keys, key)
		}

		ctx = logging.AddMetaToContext(ctx, slog.Int("keyCount", len(keys)))

		response := preloadResponse{Requested: len(keys), Errors: []string{}}
		statusCode := http.StatusOK

		err = preload(ctx, keys, timeout)
		if err != nil {
			var joined interface{ Unwrap() []error }
			if errors.As(err, &joined) {
				for _, keyErr := range joined.Unwrap() {
					response.Errors = append(response.Errors, keyErr.Error())
				}
			} else {
				response.Errors = append(response.Errors, err.Error())
			}
			statusCode = http.StatusMultiStatus
			logging.FromContext(ctx).Warn("Preload partially failed", "failed", len(response.Errors))
		}

		writeJSON(ctx, w, statusCode, response)
	}

	return middleware(handler)
}

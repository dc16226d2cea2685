package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Amund211/stockpile/internal/app"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/logging"
	"github.com/Amund211/stockpile/internal/reporting"
)

// statusForError maps a manager error to a status code and whether it is unexpected
func statusForError(err error) (int, bool) {
	switch {
	case errors.Is(err, domain.ErrInvalidKey):
		return http.StatusBadRequest, false
	case errors.Is(err, domain.ErrKeyNotFound),
		errors.Is(err, domain.ErrInstanceNotFound),
		errors.Is(err, domain.ErrAssetNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, false
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, app.ErrClosed):
		return http.StatusServiceUnavailable, false
	case errors.Is(err, domain.ErrLoadFailed):
		return http.StatusBadGateway, true
	}
	return http.StatusInternalServerError, true
}

func writeError(ctx context.Context, w http.ResponseWriter, err error, action string) {
	statusCode, unexpected := statusForError(err)

	if unexpected {
		logging.FromContext(ctx).Error("Failed to "+action, "statusCode", statusCode, "error", err.Error())
		reporting.Report(ctx, fmt.Errorf("failed to %s: %w", action, err))
	} else {
		logging.FromContext(ctx).Info("Failed to "+action, "statusCode", statusCode, "reason", err.Error())
	}

	http.Error(w, http.StatusText(statusCode)+": "+err.Error(), statusCode)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, response any) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.FromContext(ctx).Error("Failed to marshal response", "error", err)
		reporting.Report(ctx, fmt.Errorf("failed to marshal response: %w", err))

		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err = w.Write(data); err != nil {
		logging.FromContext(ctx).Error("Failed to write response", "error", err)
		reporting.Report(ctx, fmt.Errorf("failed to write response: %w", err))
		return
	}
}

const maxRequestTimeout = 5 * time.Minute

// timeoutFromRequest reads the optional ?timeoutMs= query value. Zero means
// the request did not set one.
func timeoutFromRequest(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("timeoutMs")
	if raw == "" {
		return 0, true
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 || time.Duration(ms)*time.Millisecond > maxRequestTimeout {
		statusCode := http.StatusBadRequest
		logging.FromContext(r.Context()).Info("Invalid timeout. Returning error", "statusCode", statusCode, "rawTimeout", raw)
		http.Error(w, "Invalid timeoutMs", statusCode)
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// keyFromRequest parses the {key...} path value and adds it to the request meta
func keyFromRequest(w http.ResponseWriter, r *http.Request) (context.Context, domain.Key, bool) {
	ctx := r.Context()

	rawKey := r.PathValue("key")

	ctx = logging.AddMetaToContext(ctx, slog.String("rawKey", rawKey))

	key, err := domain.ParseKey(rawKey)
	if err != nil {
		statusCode := http.StatusBadRequest
		logging.FromContext(ctx).Info("Invalid key. Returning error", "statusCode", statusCode, "reason", err.Error())
		http.Error(w, "Invalid key", statusCode)
		return ctx, domain.Key{}, false
	}

	ctx = logging.AddMetaToContext(ctx, slog.String("key", key.String()))
	ctx = reporting.AddAssetKeyToContext(ctx, key.Kind().String(), rawKey)
	return ctx, key, true
}

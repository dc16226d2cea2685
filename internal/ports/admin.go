package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/stockpile/internal/app"
	"github.com/Amund211/stockpile/internal/logging"
)

func MakeReleaseAllHandler(
	releaseAll app.ReleaseAll,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("releaseall", adminLimits, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		summary := releaseAll()
		logging.FromContext(ctx).Info("Released everything", "entries", summary.Entries)

		writeJSON(ctx, w, http.StatusOK, summary)
	}

	return middleware(handler)
}

func MakeLowMemoryHandler(
	sweep app.LowMemorySweep,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("lowmemory", adminLimits, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		summary := sweep()
		logging.FromContext(ctx).Info("Swept on request", "freed", len(summary.FreedKeys), "trimmedInstances", summary.TrimmedInstances)

		writeJSON(ctx, w, http.StatusOK, summary)
	}

	return middleware(handler)
}

func MakeDumpHandler(
	dump app.DumpState,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("dump", adminLimits, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(dump())); err != nil {
			logging.FromContext(ctx).Error("Failed to write dump", "error", err)
		}
	}

	return middleware(handler)
}

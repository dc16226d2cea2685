package ports

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Amund211/stockpile/internal/app"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/logging"
)

type assetResponse struct {
	Key         string    `json:"key"`
	Address     string    `json:"address"`
	ContentType string    `json:"contentType"`
	Size        int       `json:"size"`
	LoadedAt    time.Time `json:"loadedAt"`
	Data        []byte    `json:"data,omitempty"`
}

func assetToResponse(asset domain.Asset, includeData bool) assetResponse {
	response := assetResponse{
		Key:         asset.Key.String(),
		Address:     asset.Address,
		ContentType: asset.ContentType,
		Size:        asset.Size(),
		LoadedAt:    asset.LoadedAt,
	}
	if includeData {
		response.Data = asset.Data
	}
	return response
}

// MakeLoadAssetHandler loads an asset and keeps a reference to it until unloaded.
//
// The asset contents are included when the request has ?data=true, and
// ?timeoutMs= bounds the wait for the load.
func MakeLoadAssetHandler(
	loadAsset app.LoadAsset,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("load", hotPathLimits, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx, key, ok := keyFromRequest(w, r)
		if !ok {
			return
		}

		timeout, ok := timeoutFromRequest(w, r)
		if !ok {
			return
		}

		asset, err := loadAsset(ctx, key, timeout)
		if err != nil {
			writeError(ctx, w, err, "load asset")
			return
		}

		logging.FromContext(ctx).Info("Loaded asset", "size", asset.Size())
		writeJSON(ctx, w, http.StatusOK, assetToResponse(asset, r.URL.Query().Get("data") == "true"))
	}

	return middleware(handler)
}

func MakeUnloadAssetHandler(
	unloadAsset app.UnloadAsset,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("unload", hotPathLimits, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx, key, ok := keyFromRequest(w, r)
		if !ok {
			return
		}

		if err := unloadAsset(key); err != nil {
			writeError(ctx, w, err, "unload asset")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}

	return middleware(handler)
}

package ports

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Amund211/stockpile/internal/app"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/logging"
	"github.com/Amund211/stockpile/internal/strutils"
)

const maxPlacementBodyBytes = 4 << 10

type instanceResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

func instanceToResponse(instance domain.Instance) instanceResponse {
	return instanceResponse{
		ID:        instance.ID,
		Key:       instance.Key.String(),
		Address:   instance.Address,
		CreatedAt: instance.CreatedAt,
	}
}

// parsePlacement reads an optional placement body. An empty body places the
// instance at the origin with no rotation.
func parsePlacement(r *http.Request) (domain.Placement, error) {
	placement := domain.Placement{Rotation: domain.IdentityRotation}

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxPlacementBodyBytes))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&placement)
	if errors.Is(err, io.EOF) {
		return placement, nil
	}
	return placement, err
}

func MakeInstantiateHandler(
	instantiate app.InstantiateAsset,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("instantiate", hotPathLimits, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx, key, ok := keyFromRequest(w, r)
		if !ok {
			return
		}

		timeout, ok := timeoutFromRequest(w, r)
		if !ok {
			return
		}

		placement, err := parsePlacement(r)
		if err != nil {
			statusCode := http.StatusBadRequest
			logging.FromContext(ctx).Info("Invalid placement. Returning error", "statusCode", statusCode, "reason", err.Error())
			http.Error(w, "Invalid placement", statusCode)
			return
		}

		instance, err := instantiate(ctx, key, placement, timeout)
		if err != nil {
			writeError(ctx, w, err, "instantiate asset")
			return
		}

		logging.FromContext(ctx).Info("Instantiated asset", "instanceID", instance.ID)
		writeJSON(ctx, w, http.StatusCreated, instanceToResponse(instance))
	}

	return middleware(handler)
}

func MakeReleaseInstanceHandler(
	releaseInstance app.ReleaseInstance,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("releaseinstance", hotPathLimits, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		rawID := r.PathValue("id")
		ctx = logging.AddMetaToContext(ctx, slog.String("rawInstanceID", rawID))

		id, err := strutils.NormalizeUUID(rawID)
		if err != nil {
			statusCode := http.StatusBadRequest
			logging.FromContext(ctx).Info("Invalid instance id. Returning error", "statusCode", statusCode, "reason", "invalid uuid")
			http.Error(w, "Invalid instance id", statusCode)
			return
		}

		if err := releaseInstance(ctx, id); err != nil {
			writeError(ctx, w, err, "release instance")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}

	return middleware(handler)
}

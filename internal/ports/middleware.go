package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/stockpile/internal/logging"
	"github.com/Amund211/stockpile/internal/ratelimiting"
	"github.com/Amund211/stockpile/internal/reporting"
)

func NewRateLimitMiddleware(rateLimiter ratelimiting.RequestRateLimiter, onLimitExceeded http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !rateLimiter.Consume(r) {
				onLimitExceeded(w, r)
				return
			}

			next(w, r)
		}
	}
}

func ComposeMiddlewares(middlewares ...func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	if len(middlewares) == 1 {
		return middlewares[0]
	}
	first := middlewares[0]
	rest := ComposeMiddlewares(middlewares[1:]...)
	return func(h http.HandlerFunc) http.HandlerFunc {
		return first(rest(h))
	}
}

type endpointLimits struct {
	ipRefill     ratelimiting.RefillPerSecond
	ipBurst      ratelimiting.BurstSize
	userIDRefill ratelimiting.RefillPerSecond
	userIDBurst  ratelimiting.BurstSize
}

// Loads and spawns are cheap once cached, so clients may hit these in bursts
var hotPathLimits = endpointLimits{
	ipRefill:     ratelimiting.RefillPerSecond(50),
	ipBurst:      ratelimiting.BurstSize(1000),
	userIDRefill: ratelimiting.RefillPerSecond(20),
	userIDBurst:  ratelimiting.BurstSize(500),
}

var adminLimits = endpointLimits{
	ipRefill:     ratelimiting.RefillPerSecond(1),
	ipBurst:      ratelimiting.BurstSize(10),
	userIDRefill: ratelimiting.RefillPerSecond(1),
	userIDBurst:  ratelimiting.BurstSize(5),
}

func buildEndpointMiddleware(
	name string,
	limits endpointLimits,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) func(http.HandlerFunc) http.HandlerFunc {
	ipLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(limits.ipRefill, limits.ipBurst)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		ipLimiter,
		ratelimiting.IPKeyFunc,
	)
	userIDLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(limits.userIDRefill, limits.userIDBurst)
	userIDRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		// NOTE: Rate limiting based on user controlled value
		userIDLimiter,
		ratelimiting.UserIDKeyFunc,
	)

	makeOnLimitExceeded := func(rateLimiter ratelimiting.RequestRateLimiter) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			statusCode := http.StatusTooManyRequests

			logging.FromContext(ctx).Info("Rate limit exceeded", "statusCode", statusCode, "reason", "ratelimit exceeded", "key", rateLimiter.KeyFor(r))

			http.Error(w, "Rate limit exceeded", statusCode)
		}
	}

	return ComposeMiddlewares(
		buildMetricsMiddleware(name),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware(name),
		NewRateLimitMiddleware(ipRateLimiter, makeOnLimitExceeded(ipRateLimiter)),
		NewRateLimitMiddleware(userIDRateLimiter, makeOnLimitExceeded(userIDRateLimiter)),
	)
}

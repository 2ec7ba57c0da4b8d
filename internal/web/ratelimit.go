package web

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// rateLimit returns per-IP limiting middleware allowing perMinute requests.
// A nil store keeps counters in memory. name separates the counters of
// limiters that share a store.
func rateLimit(store limiter.Store, perMinute int, name string) func(http.Handler) http.Handler {
	if store == nil {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          "import_" + name,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
	}
	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMinute)}

	mw := stdlib.NewMiddleware(limiter.New(store, rate),
		stdlib.WithKeyGetter(func(r *http.Request) string {
			return name + ":" + clientIP(r)
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rate.Period.Seconds())))
			respondErrorJSON(w, core.MapError(errRateLimited), http.StatusTooManyRequests)
		}),
	)
	return mw.Handler
}

// clientIP is the connection address after TrustedRealIP has run.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

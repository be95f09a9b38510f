package server

import (
	"context"
	"net/http"
	"time"

	"arena-backend/internal/api"
	"arena-backend/internal/constants"

	json "github.com/goccy/go-json"
)

// identityRateLimitStale is how old a rate limit sample may be before it is left out.
const identityRateLimitStale = 10 * time.Minute

type Pinger interface {
	PingContext(ctx context.Context) error
}

type RateLimitSource interface {
	GetRateLimitInfo() api.RateLimitInfo
}

type healthResponse struct {
	Status            string             `json:"status"`
	Database          string             `json:"database"`
	IdentityRateLimit *api.RateLimitInfo `json:"identity_rate_limit,omitempty"`
}

// HealthHandler reports database reachability and the identity service's last seen
// rate limit budget. It answers 503 when the database cannot be pinged.
func HealthHandler(db Pinger, identity RateLimitSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok"}
		code := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unavailable"
			code = http.StatusServiceUnavailable
		}
		if rl := identity.GetRateLimitInfo(); !rl.UpdatedAt.IsZero() && time.Since(rl.UpdatedAt) < identityRateLimitStale {
			resp.IdentityRateLimit = &rl
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

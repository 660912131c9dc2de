package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthStatus represents the health of a running agency.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ChannelHealth describes one hosted channel.
type ChannelHealth struct {
	ID           string `json:"id"`
	MailboxDepth int    `json:"mailbox_depth"`
	// MailboxCapacity is 0 for an unbounded mailbox.
	MailboxCapacity int `json:"mailbox_capacity,omitempty"`
}

// Full reports whether the mailbox rejects further deliveries.
func (c ChannelHealth) Full() bool {
	return c.MailboxCapacity > 0 && c.MailboxDepth >= c.MailboxCapacity
}

// HealthSource exposes the state of an agency to the health endpoints.
type HealthSource interface {
	// SpaceKind names the space the channels are joined to.
	SpaceKind() string
	// LiveChannels lists every channel reachable through the space, hosted
	// here or elsewhere. It fails when the space's transport is down.
	LiveChannels(ctx context.Context) ([]string, error)
	// ChannelHealth lists the hosted channels.
	ChannelHealth() []ChannelHealth
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    HealthStatus    `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Uptime    string          `json:"uptime"`
	Space     string          `json:"space"`
	Transport string          `json:"transport"`
	Live      []string        `json:"live,omitempty"`
	Channels  []ChannelHealth `json:"channels"`
}

var (
	startTime = time.Now()
	version   atomic.Value
)

// SetVersion sets the version reported by health responses.
func SetVersion(v string) {
	version.Store(v)
}

func currentVersion() string {
	if v, ok := version.Load().(string); ok {
		return v
	}
	return "dev"
}

// LookupTimeout bounds the live channel lookup.
const LookupTimeout = 5 * time.Second

// CheckHealth builds a health report for src. A failing transport makes the
// agency unhealthy; a full mailbox or an agency without channels makes it
// degraded.
func CheckHealth(ctx context.Context, src HealthSource) HealthResponse {
	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Version:   currentVersion(),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Space:     src.SpaceKind(),
		Transport: "ok",
		Channels:  src.ChannelHealth(),
	}

	pctx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()
	live, err := src.LiveChannels(pctx)
	if err != nil {
		resp.Status = HealthStatusUnhealthy
		resp.Transport = err.Error()
		return resp
	}
	resp.Live = live

	if len(resp.Channels) == 0 {
		resp.Status = HealthStatusDegraded
	}
	for _, ch := range resp.Channels {
		if ch.Full() {
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

// HealthHandler serves the full health report. Unhealthy agencies answer 503.
func HealthHandler(src HealthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := CheckHealth(r.Context(), src)
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// ReadinessHandler answers 200 only while the agency is fully healthy.
func ReadinessHandler(src HealthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if CheckHealth(r.Context(), src).Status != HealthStatusHealthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

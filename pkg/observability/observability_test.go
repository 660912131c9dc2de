package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	kind        string
	transport   error
	channels    []ChannelHealth
	lookupDelay time.Duration
}

func (f *fakeSource) SpaceKind() string { return f.kind }

func (f *fakeSource) LiveChannels(ctx context.Context) ([]string, error) {
	if f.lookupDelay > 0 {
		select {
		case <-time.After(f.lookupDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.transport != nil {
		return nil, f.transport
	}
	ids := make([]string, 0, len(f.channels))
	for _, ch := range f.channels {
		ids = append(ids, ch.ID)
	}
	return ids, nil
}

func (f *fakeSource) ChannelHealth() []ChannelHealth { return f.channels }

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name   string
		src    *fakeSource
		status HealthStatus
	}{
		{
			name:   "healthy",
			src:    &fakeSource{kind: "local", channels: []ChannelHealth{{ID: "Echo", MailboxDepth: 2}}},
			status: HealthStatusHealthy,
		},
		{
			name:   "no channels",
			src:    &fakeSource{kind: "local"},
			status: HealthStatusDegraded,
		},
		{
			name: "full mailbox",
			src: &fakeSource{kind: "redis", channels: []ChannelHealth{
				{ID: "Echo"},
				{ID: "Host", MailboxDepth: 8, MailboxCapacity: 8},
			}},
			status: HealthStatusDegraded,
		},
		{
			name: "transport lost",
			src: &fakeSource{
				kind:      "redis",
				transport: errors.New("transport failure: broker unreachable after 5 attempts"),
				channels:  []ChannelHealth{{ID: "Echo"}},
			},
			status: HealthStatusUnhealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := CheckHealth(context.Background(), tt.src)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.src.kind, resp.Space)
			assert.Equal(t, tt.src.channels, resp.Channels)
			if tt.src.transport != nil {
				assert.Equal(t, tt.src.transport.Error(), resp.Transport)
				assert.Empty(t, resp.Live)
			} else {
				assert.Equal(t, "ok", resp.Transport)
				assert.Len(t, resp.Live, len(tt.src.channels))
			}
		})
	}
}

func TestCheckHealth_LookupHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	src := &fakeSource{kind: "redis", lookupDelay: time.Minute, channels: []ChannelHealth{{ID: "Echo"}}}

	resp := CheckHealth(ctx, src)
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Transport, "deadline")
}

func TestHandlers(t *testing.T) {
	SetVersion("test")
	src := &fakeSource{kind: "local", channels: []ChannelHealth{{ID: "Echo", MailboxDepth: 1}}}

	rec := httptest.NewRecorder()
	HealthHandler(src)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "local", resp.Space)
	require.Len(t, resp.Channels, 1)
	assert.Equal(t, 1, resp.Channels[0].MailboxDepth)

	rec = httptest.NewRecorder()
	ReadinessHandler(src)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	src.transport = errors.New("broker gone")
	rec = httptest.NewRecorder()
	HealthHandler(src)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	ReadinessHandler(src)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Routes(t *testing.T) {
	srv := NewServer("127.0.0.1:0", &fakeSource{kind: "local", channels: []ChannelHealth{{ID: "Echo"}}})
	for _, path := range []string{"/health", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestMetrics(t *testing.T) {
	InitMetrics()
	InitMetrics()

	before := testutil.ToFloat64(envelopesRoutedTotal.WithLabelValues("local", "delivered"))
	RecordRoute("local", "delivered")
	assert.Equal(t, before+1, testutil.ToFloat64(envelopesRoutedTotal.WithLabelValues("local", "delivered")))

	RecordDispatch("Echo", "ping", "invoked", time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(dispatchTotal.WithLabelValues("Echo", "ping", "invoked")), 1.0)

	SetMailboxDepth("Echo", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(mailboxDepth.WithLabelValues("Echo")))

	RecordGrantRequest("read_file", "approved")
	RecordReconnect("success")
	SetLiveChannels("redis", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(liveChannels.WithLabelValues("redis")))

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "agency_envelopes_routed_total"))
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/askpulse/internal/adapter/metrics"
	"github.com/pscheid92/askpulse/internal/broadcast"
	"github.com/pscheid92/askpulse/internal/dedup"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/pscheid92/askpulse/internal/platform/config"
	"github.com/stretchr/testify/require"
)

type stubWebSocket struct {
	connections int64
	served      []string
}

func (s *stubWebSocket) Serve(w http.ResponseWriter, _ *http.Request, ip string) {
	s.served = append(s.served, ip)
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (s *stubWebSocket) ConnectionCount() int64 { return s.connections }

type stubCheck struct {
	name string
	err  error
}

func (c stubCheck) Name() string                  { return c.name }
func (c stubCheck) Check(_ context.Context) error { return c.err }

func healthy(name string) HealthChecker { return stubCheck{name: name} }

func failing(name, msg string) HealthChecker { return stubCheck{name: name, err: errors.New(msg)} }

type testServer struct {
	*Server
	bus   *broadcast.Bus
	ws    *stubWebSocket
	clock *clockwork.FakeClock
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:       "test",
		Port:         "0",
		APIRateLimit: 1000,
		APIRateBurst: 1000,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, checks ...HealthChecker) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}

	clock := clockwork.NewFakeClock()
	reg := prometheus.NewRegistry()
	bus := broadcast.NewBus(dedup.NewCache(dedup.DefaultWindow, clock), metrics.NewBusMetrics(reg), clock, 16, time.Minute)
	t.Cleanup(bus.Stop)

	ws := &stubWebSocket{}
	srv := NewServer(cfg, bus, ws, checks, reg, metrics.NewHTTPMetrics(reg), clock)
	return &testServer{Server: srv, bus: bus, ws: ws, clock: clock}
}

func (s *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *testServer) publish(t *testing.T, title string) domain.Question {
	t.Helper()
	q, err := s.bus.PublishQuestion(context.Background(), domain.QuestionDraft{
		Title:  title,
		Author: domain.Author{Name: "Ada"},
	})
	require.NoError(t, err)
	return q
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

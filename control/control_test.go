package control_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/control"
)

func TestConfigValidate(t *testing.T) {
	if err := control.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cases := []struct {
		name  string
		tweak func(*control.Config)
	}{
		{"log level", func(c *control.Config) { c.LogLevel = "loud" }},
		{"namespace", func(c *control.Config) { c.MetricsNamespace = "" }},
		{"address", func(c *control.Config) { c.HTTPAddr = "no-port" }},
	}
	for _, tc := range cases {
		cfg := control.DefaultConfig()
		tc.tweak(cfg)
		if err := cfg.Validate(); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("%s: Validate = %v, want ErrInvalidArgument", tc.name, err)
		}
	}

	cfg := control.DefaultConfig()
	cfg.HTTPAddr = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled control listener rejected: %v", err)
	}
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(control.WithRegistry(reg), control.WithNamespace("test"))
	m.ConnectionOpened()
	m.SetPlayers(3)

	probes := control.NewDebugProbes()
	probes.RegisterProbe("answer", func() any { return 42 })

	var healthErr error
	h := control.NewRouter(reg, probes, func() error { return healthErr })

	code, body := get(t, h, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "test_playerbase_players 3") ||
		!strings.Contains(body, "test_transport_connections 1") {
		t.Fatalf("/metrics = %d\n%s", code, body)
	}

	if code, body := get(t, h, "/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	healthErr = errors.New("reactor stopped")
	if code, _ := get(t, h, "/healthz"); code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy /healthz = %d", code)
	}

	if code, body := get(t, h, "/debug/state"); code != http.StatusOK || !strings.Contains(body, `"answer":42`) {
		t.Fatalf("/debug/state = %d %s", code, body)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *control.Metrics
	m.ObserveIteration()
	m.SetSources("poll", 1)
	m.ObserveSend(errors.New("x"))
	m.ObserveConnectionError("closed")
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 1 })
	dp.RegisterProbe("a", func() any { panic("boom") })
	dp.RegisterProbe("b", func() any { return 2 })

	if names := dp.Names(); len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Fatalf("Names = %v, want [b a]", names)
	}
	state := dp.DumpState()
	if state["b"] != 2 {
		t.Fatalf("b = %v, want replaced probe value 2", state["b"])
	}
	if s, _ := state["a"].(string); !strings.Contains(s, "boom") {
		t.Fatalf("panicking probe reported %v", state["a"])
	}

	dp.UnregisterProbe("b")
	dp.UnregisterProbe("missing")
	if names := dp.Names(); len(names) != 1 || names[0] != "a" {
		t.Fatalf("Names after unregister = %v", names)
	}
}

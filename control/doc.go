// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, Prometheus telemetry and the HTTP control surface
// of pcxd.
//
// Provides:
//   - A typed server configuration with defaults and validation
//   - Metrics collectors shared by the reactor, queue, playerbase and transport
//   - A chi router exposing /metrics and /healthz
//
// Metrics methods are safe on a nil *Metrics so components can run without
// telemetry in tests.
package control

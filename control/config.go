// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Process-level configuration: logging, metrics and the control listener.

package control

import (
	"fmt"
	"net"

	"go.uber.org/zap/zapcore"

	"github.com/momentics/pcxd/api"
)

// Config holds the control plane settings. Game server settings live in
// server.Config.
type Config struct {
	HTTPAddr         string // control listener, empty disables it
	LogLevel         string // debug, info, warn or error
	Development      bool   // console encoder and debug-friendly defaults
	MetricsNamespace string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:         "127.0.0.1:9364",
		LogLevel:         "info",
		MetricsNamespace: "pcxd",
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return invalid("log level", c.LogLevel, err)
	}
	if c.MetricsNamespace == "" {
		return invalid("metrics namespace", c.MetricsNamespace, nil)
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			return invalid("control address", c.HTTPAddr, err)
		}
	}
	return nil
}

func invalid(field, value string, cause error) error {
	e := api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("invalid %s %q", field, value))
	if cause != nil {
		e.WithContext("cause", cause.Error())
	}
	return e.Wrap(api.ErrInvalidArgument)
}

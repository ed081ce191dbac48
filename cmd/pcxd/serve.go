// File: cmd/pcxd/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/pcxd/affinity"
	"github.com/momentics/pcxd/api"
	"github.com/momentics/pcxd/control"
	"github.com/momentics/pcxd/conversation"
	"github.com/momentics/pcxd/internal/logging"
	"github.com/momentics/pcxd/reactor"
	"github.com/momentics/pcxd/server"
)

// Rule engines are plugged in elsewhere; without one a game type is a plain
// chat room with seats.
var defaultGames = []string{
	"coup:2:6",
	"snitch:2:6",
	"wordparty:2:16",
	"superfight:3:16",
	"zombie:1:6",
	"werewolf:5:10",
	"chameleon:3:8",
}

func serveCmd() *cobra.Command {
	cfg := server.DefaultConfig()
	ccfg := control.DefaultConfig()
	games := append([]string(nil), defaultGames...)
	cpu := -1

	cmd := &cobra.Command{
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gameTypes, err := parseGames(games)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, ccfg, gameTypes, cpu)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "port or host:port to accept clients on (default port 3648)")
	f.DurationVar(&cfg.MaxPlayerAge, "max-player-age", cfg.MaxPlayerAge, "how long a disconnected player keeps its seat")
	f.StringSliceVar(&cfg.Languages, "language", cfg.Languages, "accepted language codes")
	f.StringVar(&cfg.RelayURL, "relay-url", "", "POST public messages to <url>/<conversation>")
	f.IntVar(&cfg.RelayLimit, "relay-limit", cfg.RelayLimit, "relayed messages per conversation per window")
	f.DurationVar(&cfg.RelayWindow, "relay-window", cfg.RelayWindow, "relay rate-limit window")
	f.StringSliceVar(&games, "game", games, "game type as name:min:max, repeatable")
	f.IntVar(&cpu, "cpu", cpu, "pin the main loop to this CPU, -1 to leave it floating")

	f.StringVar(&ccfg.HTTPAddr, "control-addr", ccfg.HTTPAddr, "metrics and health listener, empty to disable")
	f.StringVar(&ccfg.LogLevel, "log-level", ccfg.LogLevel, "debug, info, warn or error")
	f.BoolVar(&ccfg.Development, "dev", false, "human readable logs")
	f.StringVar(&ccfg.MetricsNamespace, "metrics-namespace", ccfg.MetricsNamespace, "Prometheus namespace")
	return cmd
}

func parseGames(defs []string) ([]*conversation.GameType, error) {
	out := make([]*conversation.GameType, 0, len(defs))
	for _, def := range defs {
		parts := strings.Split(def, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("game %q: want name:min:max", def)
		}
		lo, err1 := strconv.Atoi(parts[1])
		hi, err2 := strconv.Atoi(parts[2])
		if err := errors.Join(err1, err2); err != nil || lo < 1 || hi < lo || hi > 32 {
			return nil, fmt.Errorf("game %q: bad player counts", def)
		}
		out = append(out, &conversation.GameType{Name: parts[0], MinPlayers: lo, MaxPlayers: hi})
	}
	return out, nil
}

func serve(ctx context.Context, cfg *server.Config, ccfg *control.Config, games []*conversation.GameType, cpu int) error {
	if err := ccfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(ccfg.LogLevel, ccfg.Development)
	if err != nil {
		return err
	}
	defer log.Sync()
	logging.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := control.NewMetrics(
		control.WithRegistry(reg),
		control.WithNamespace(ccfg.MetricsNamespace))

	mc, err := reactor.New(
		reactor.WithLogger(log.Named("reactor")),
		reactor.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("create reactor: %w", err)
	}
	defer mc.Close()

	srv, err := server.New(mc, cfg,
		server.WithLogger(log.Named("server")),
		server.WithMetrics(metrics),
		server.WithGameTypes(games...))
	if err != nil {
		return err
	}

	quit := mc.AddQuit(func(_ api.Handle, sig os.Signal) {
		log.Info("quit signal received", zap.Stringer("signal", sig))
		mc.Stop()
	})

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var running atomic.Bool
	running.Store(true)
	if ccfg.HTTPAddr != "" {
		probes := control.NewDebugProbes()
		probes.RegisterProbe("reactor", func() any { return mc.Stats() })
		router := control.NewRouter(reg, probes, func() error {
			if !running.Load() {
				return errors.New("main loop stopped")
			}
			return nil
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := control.Serve(ctx, ccfg.HTTPAddr, router, log.Named("control")); err != nil {
				log.Error("control listener failed", zap.Error(err))
			}
		}()
	}

	if cpu >= 0 {
		unpin, err := affinity.Pin(cpu)
		if err != nil {
			log.Warn("failed to pin main loop", zap.Int("cpu", cpu), zap.Error(err))
		} else {
			defer unpin()
		}
	}

	err = mc.Run(ctx)
	running.Store(false)
	cancel()
	wg.Wait()

	_ = mc.Remove(quit)
	if cerr := srv.Close(); cerr != nil {
		log.Warn("failed to close listening socket", zap.Error(cerr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

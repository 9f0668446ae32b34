package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quietwire/wormhole/internal/config"
	"github.com/quietwire/wormhole/internal/healthz"
	"github.com/quietwire/wormhole/internal/ratelimit"
	"github.com/quietwire/wormhole/internal/signaling"
	"github.com/quietwire/wormhole/internal/util"
)

// runServe starts the signaling relay: /ws, /config, /healthz, following
// the teacher's http.NewServeMux + http.Serve pattern from
// internal/signaling/ws.go, generalized from a single random-port listener
// to a configurable address.
func runServe(ctx context.Context, addr string) error {
	cfg := config.Default()

	srv := signaling.NewServer(signaling.Config{
		RateWindow:    ratelimit.DefaultWindow,
		RateMax:       ratelimit.DefaultMax,
		MaxPayload:    cfg.Server.MaxSignalPayloadBytes,
		RoomTTL:       cfg.Server.RoomTTL,
		SweepInterval: cfg.Server.RoomTTL / 3,
	})

	stop := make(chan struct{})
	srv.StartSweeper(stop)
	defer close(stop)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.Handler())
	mux.HandleFunc("/config", config.Handler(cfg.Client))
	mux.HandleFunc("/healthz", healthz.Handler())

	httpSrv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	util.LogSuccess("signaling server listening on %s (instance %s)", addr, cfg.Server.InstanceID)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		return httpSrv.Close()
	}
}

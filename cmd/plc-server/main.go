// Command plc-server runs the network endpoint standalone: a Memory, the
// websocket-based request/reply worker of internal/plcserver, a
// Controller for heartbeat tracking, an optional Redis relay, and a
// metrics poller — wired from internal/plcconfig. Grounded on
// src/mujinplcexample/main.cpp's minimal construct-start-wait-for-
// ENTER-stop shape, translated to a signal-driven Go main.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mujin/goplc/internal/plcconfig"
	"github.com/mujin/goplc/internal/plccontroller"
	"github.com/mujin/goplc/internal/plcmemory"
	"github.com/mujin/goplc/internal/plcmetrics"
	"github.com/mujin/goplc/internal/plcrelay"
	"github.com/mujin/goplc/internal/plcserver"
)

func main() {
	cfg := plcconfig.Get()
	memory := plcmemory.New()
	metrics := plcmetrics.New()
	memory.OnWrite(metrics.ObserveWrite)

	controller := plccontroller.New(memory, cfg.MaxHeartbeatInterval(), cfg.Heartbeat.Signal)
	defer controller.Close()

	var relay *plcrelay.Relay
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Relay.Enabled {
		r, err := plcrelay.New(cfg.Relay.Addr, cfg.Relay.Channel, memory, slog.Default())
		if err != nil {
			slog.Error("plc-server: relay init failed, continuing without it", "error", err)
		} else {
			relay = r
			defer relay.Close()
			go func() {
				if err := relay.Subscribe(ctx); err != nil {
					slog.Error("plc-server: relay subscribe stopped", "error", err)
				}
			}()
		}
	}

	server := plcserver.New(memory, plcserver.Options{
		Addr:           cfg.Server.Addr,
		WriteDeadline:  cfg.WriteDeadline(),
		SendBufferSize: cfg.Server.SendBufferSize,
		PollInterval:   cfg.PollInterval(),
		OnRequest:      metrics.ObserveServerRequest,
	})

	controllers := map[string]*plccontroller.Controller{
		"default": controller,
	}
	go plcmetrics.RunPoller(ctx, metrics, memory, controllers, cfg.PollInterval())

	server.Start()
	slog.Info("plc-server started", "addr", cfg.Server.Addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("plc-server stopping")
	cancel()
	server.Stop()
	slog.Info("plc-server stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/gateway"
	"github.com/zeusync/worldcore/internal/injector"
)

func main() {
	configPath := flag.String("config", os.Getenv("WORLDCORE_CONFIG"), "path to a .yaml or .toml config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := injector.InitializeApp(ctx, injector.ConfigPath(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "worldcore: startup failed:", err)
		os.Exit(1)
	}
	logger := app.Log
	cfg := app.Store.Current()
	logger.Info("worldcore starting",
		log.String("config", *configPath),
		log.String("addr", cfg.Gateway.Addr),
		log.String("quic_addr", cfg.Gateway.QUICAddr),
		log.Float64("region_size", cfg.World.RegionSize),
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.World.Run(gctx)
	})
	g.Go(func() error {
		return app.Gateway.Serve(gctx)
	})
	if cfg.Gateway.QUICAddr != "" {
		g.Go(func() error {
			tlsConf, err := gateway.GenerateSelfSignedTLS()
			if err != nil {
				return err
			}
			return app.Gateway.ServeQUIC(gctx, tlsConf)
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if _, err := app.Store.Reload(); err != nil {
					logger.Warn("config reload rejected", log.Error(err))
				}
			}
		}
	})

	err = g.Wait()
	// The world has saved every player by now; closing the pool drains
	// the queued writes.
	cleanup()
	if err != nil {
		logger.Error("worldcore stopped with error", log.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("worldcore stopped")
	_ = logger.Sync()
}

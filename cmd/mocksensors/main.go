// Command mocksensors runs a stand-in sensor gateway that serves randomized
// node readings, so the monitor can be exercised without hardware.
//
// Usage:
//
//	go run ./cmd/mocksensors -addr :5000 -nodes 4 -wildfire -quake 0.8
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mocksensors failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":5000", "listen address")
	nodes := flag.Int("nodes", 3, "number of simulated nodes")
	interval := flag.Duration("interval", 2*time.Second, "how often readings are regenerated")
	wildfire := flag.Bool("wildfire", false, "make the first node report wildfire conditions")
	quake := flag.Float64("quake", 0, "acceleration magnitude (m/s^2) reported by the last node; 0 disables")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	if *nodes < 1 {
		flag.Usage()
		return fmt.Errorf("-nodes must be at least 1, got %d", *nodes)
	}
	if *interval <= 0 {
		return fmt.Errorf("-interval must be positive, got %s", *interval)
	}

	logger := sharedobs.NewLogger("info", "text")
	gw := newGateway(*nodes, scenario{wildfire: *wildfire, quakeAccel: *quake}, *seed)
	gw.generate()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gw.generate()
			}
		}
	}()

	srv := &http.Server{Addr: *addr, Handler: gw.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("mock gateway listening", "addr", *addr, "nodes", gw.nodeIDs(),
		"wildfire", *wildfire, "quake", *quake)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// avcontrold is the venue A/V control daemon.
//
// It owns the device inventory, runs scheduled turn-on/turn-off jobs,
// monitors device health over the venue LAN, and serves an HTTP API on
// a unix socket (and optionally TCP) for the avctl CLI and operator
// tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/venuelab/avcontrold/internal/actionlog"
	"github.com/venuelab/avcontrold/internal/api"
	"github.com/venuelab/avcontrold/internal/config"
	"github.com/venuelab/avcontrold/internal/device"
	"github.com/venuelab/avcontrold/internal/monitor"
	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/probe"
	"github.com/venuelab/avcontrold/internal/proto"
	"github.com/venuelab/avcontrold/internal/registry"
	"github.com/venuelab/avcontrold/internal/reports"
	"github.com/venuelab/avcontrold/internal/sched"
	"github.com/venuelab/avcontrold/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", config.DefaultPath(), "path to the avcontrold config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create directories: %v", err)
	}

	log.Printf("avcontrold %s starting (config %s)", version.Version(), *configPath)

	// Open action log database
	store, err := actionlog.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("open action log: %v", err)
	}
	defer store.Close()
	log.Printf("action log: %s", cfg.Storage.DBPath)

	// Build device inventory
	groups, devices, errs := cfg.Inventory()
	for _, e := range errs {
		log.Printf("inventory: %v", e)
	}
	reg := registry.New(groups, devices)
	log.Printf("inventory: %d devices in %d groups", reg.Snapshot().Len(), len(groups))

	// Protocol adapters, one per device family
	prober := probe.New()
	adapters := map[device.Family]proto.Adapter{
		device.FamilyASCIILine:    proto.NewASCIIAdapter(),
		device.FamilyJSONRPC:      proto.NewJSONRPCAdapter(),
		device.FamilySemicolonTCP: proto.NewSemicolonAdapter(),
		device.FamilyPassivePC:    proto.NewPassiveAdapter(prober),
	}

	// Reports generator persists daily summaries through the action log
	gen, err := reports.New(cfg.Storage.ReportsDir, store)
	if err != nil {
		log.Fatalf("init reports: %v", err)
	}

	orch := orchestrator.New(reg, adapters, cfg.Policy(),
		orchestrator.WithRecorder(store),
		orchestrator.WithSink(gen),
		orchestrator.WithParallelLimit(cfg.ParallelLimit))

	// Monitor shares the orchestrator's concurrency bound so probes and
	// device commands never exceed one connection budget.
	mon := monitor.New(reg, prober, cfg.MonitorSettings(), orch.Semaphore())
	mon.OnSweep(gen.RecordSweep)

	var sweeper sched.Sweeper
	if mon.Enabled() {
		sweeper = mon
	}
	schedSettings, schedErrs := cfg.ScheduleSettings()
	for _, e := range schedErrs {
		log.Printf("config: %v", e)
	}
	schd, err := sched.New(orch, sweeper, store, schedSettings)
	if err != nil {
		log.Fatalf("init scheduler: %v", err)
	}
	schd.OnEvent(func(ev sched.Event) {
		log.Printf("scheduler: job %s %s %s", ev.Job, ev.Kind, ev.Detail)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schd.Start(ctx)
	if mon.Enabled() {
		go mon.Run(ctx)
	}
	go housekeeping(ctx, store, gen, mon, cfg.Storage.LogRetentionDays)

	// Reload re-reads the config file and swaps the inventory and
	// schedule in place. Listener addresses are not reloadable.
	reload := func() error {
		next, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("reload config: %w", err)
		}
		g, d, errs := next.Inventory()
		for _, e := range errs {
			log.Printf("reload inventory: %v", e)
		}
		reg.Reload(g, d)
		mon.Reset()
		ss, ssErrs := next.ScheduleSettings()
		for _, e := range ssErrs {
			log.Printf("reload: %v", e)
		}
		if err := schd.UpdateSchedule(ss); err != nil {
			return fmt.Errorf("reload schedule: %w", err)
		}
		*cfg = *next
		log.Printf("config reloaded: %d devices", reg.Snapshot().Len())
		return nil
	}

	server := api.NewServer(cfg, reg, orch, mon, schd, store, gen, reload)
	if err := server.Start(); err != nil {
		log.Fatalf("start API server: %v", err)
	}

	// Write PID file
	pidPath := filepath.Join(cfg.Storage.DataDir, "avcontrold.pid")
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0600)
	defer os.Remove(pidPath)

	log.Printf("avcontrold ready (pid %d, socket %s)", os.Getpid(), cfg.Server.SocketPath)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("received %v, shutting down", sig)

	cancel()
	schd.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	os.Remove(cfg.Server.SocketPath)
	log.Println("avcontrold stopped")
}

// housekeeping prunes the action log, archives old report files, and
// drops stale alerts once a day.
func housekeeping(ctx context.Context, store *actionlog.Store, gen *reports.Generator, mon *monitor.Monitor, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.PruneOlderThan(retentionDays); err != nil {
				log.Printf("housekeeping: prune action log: %v", err)
			} else if n > 0 {
				log.Printf("housekeeping: pruned %d action log rows", n)
			}
			if n, err := gen.ArchiveOld(retentionDays); err != nil {
				log.Printf("housekeeping: archive reports: %v", err)
			} else if n > 0 {
				log.Printf("housekeeping: archived %d report files", n)
			}
			if n := mon.ClearOldAlerts(retentionDays); n > 0 {
				log.Printf("housekeeping: cleared %d old alerts", n)
			}
		}
	}
}

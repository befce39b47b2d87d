package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/laminar-data/fgbridge/internal/api"
	"github.com/laminar-data/fgbridge/internal/bridge"
	"github.com/laminar-data/fgbridge/internal/config"
	"github.com/laminar-data/fgbridge/internal/db"
	"github.com/laminar-data/fgbridge/internal/monitor"
	"github.com/laminar-data/fgbridge/internal/protocol"
	"github.com/laminar-data/fgbridge/internal/serialmux"
	"github.com/laminar-data/fgbridge/internal/telnet"
	"github.com/laminar-data/fgbridge/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the bridge configuration file")
	listen      = flag.String("listen", ":8080", "Listen address for the HTTP API")
	devMode     = flag.Bool("dev", false, "Run in dev mode: serial taps replay fixture files instead of opening hardware")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// resolveFields returns a vehicle's ordered outbound field list, either from
// the inline list or from the <input> section of its protocol description.
func resolveFields(v *config.VehicleConfig, protocolDir string) ([]string, error) {
	if len(v.Fields) > 0 {
		return v.Fields, nil
	}
	desc, err := protocol.Load(*v.InputProtocol, protocolDir)
	if err != nil {
		return nil, fmt.Errorf("vehicle %s: %w", v.Name, err)
	}
	if desc.Input == nil {
		return nil, fmt.Errorf("vehicle %s: protocol %s has no <input> section", v.Name, *v.InputProtocol)
	}
	return desc.Input.FieldNames(), nil
}

// commandRecorder returns an OnSend hook persisting each sent command line,
// or nil when recording is disabled.
func commandRecorder(database *db.DB, name string) func(string) {
	if database == nil {
		return nil
	}
	return func(line string) {
		if _, err := database.RecordCommand(name, line); err != nil {
			log.Printf("failed to record command for %s: %v", name, err)
		}
	}
}

// newVehicleEndpoint builds and seeds one endpoint from its configuration.
func newVehicleEndpoint(cfg *config.BridgeConfig, v *config.VehicleConfig, onSend func(string)) (*bridge.Endpoint, error) {
	fields, err := resolveFields(v, cfg.GetProtocolDir())
	if err != nil {
		return nil, err
	}

	ep, err := bridge.NewEndpoint(bridge.Config{
		Name:               v.Name,
		Fields:             fields,
		Host:               v.GetHost(),
		RecvPort:           v.RecvPort,
		SendPort:           v.SendPort,
		ReferenceHeading:   cfg.GetReferenceHeading(),
		IgnoreEmptyPackets: v.GetIgnoreEmptyPackets(),
		OnSend:             onSend,
	})
	if err != nil {
		return nil, err
	}

	if err := applyPresets(ep, v.Presets); err != nil {
		ep.Close()
		return nil, fmt.Errorf("vehicle %s: %w", v.Name, err)
	}
	return ep, nil
}

func applyPresets(ep *bridge.Endpoint, presets []config.PresetConfig) error {
	for _, p := range presets {
		if scale, ok := p.GetScale(); ok {
			if err := ep.UpdateScale(p.Field, scale); err != nil {
				return err
			}
		}
		if p.Bias != nil {
			if err := ep.UpdateBias(p.Field, *p.Bias); err != nil {
				return err
			}
		}
	}
	return nil
}

// lazySim defers the telnet connection until the first freeze-control call,
// so the bridge starts cleanly while the simulator is still booting.
type lazySim struct {
	host string
	port int

	mu     sync.Mutex
	client *telnet.Client
}

func (s *lazySim) conn() (*telnet.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := telnet.Dial(ctx, s.host, s.port, telnet.DialOptions{})
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

// do runs one freeze-control call, dropping the cached connection on failure
// so the next call redials.
func (s *lazySim) do(f func(*telnet.Client) error) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	if err := f(c); err != nil {
		s.mu.Lock()
		s.client.Close()
		s.client = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *lazySim) Pause() error  { return s.do((*telnet.Client).Pause) }
func (s *lazySim) Resume() error { return s.do((*telnet.Client).Resume) }
func (s *lazySim) Reset() error  { return s.do((*telnet.Client).Reset) }

// openSerialTap opens a vehicle's serial tap, substituting a fixture-backed
// mock in dev mode.
func openSerialTap(tap *config.SerialTapConfig, dev bool) (*serialmux.Mux, error) {
	if dev {
		data, err := os.ReadFile(tap.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read serial fixture: %w", err)
		}
		return serialmux.NewMux(serialmux.NewMockPort(data)), nil
	}
	return serialmux.OpenMux(tap.Path, tap.PortOptions)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("fgbridge %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var database *db.DB
	if cfg.GetRecordTelemetry() {
		database, err = db.NewDB(cfg.GetDBPath())
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
		if err := database.MigrateUp(cfg.GetMigrationsDir()); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	endpoints := map[string]*bridge.Endpoint{}
	sims := map[string]api.SimControl{}
	monitors := make([]*monitor.Monitor, 0, len(cfg.Vehicles))

	for i := range cfg.Vehicles {
		v := &cfg.Vehicles[i]

		ep, err := newVehicleEndpoint(cfg, v, commandRecorder(database, v.Name))
		if err != nil {
			log.Fatalf("failed to create endpoint: %v", err)
		}
		defer ep.Close()
		endpoints[v.Name] = ep
		log.Printf("vehicle %s: recv %s, send %s", v.Name, ep.LocalAddr(), ep.RemoteAddr())

		if err := ep.Start(ctx); err != nil {
			log.Fatalf("failed to start endpoint %s: %v", v.Name, err)
		}

		if v.TelnetPort != nil {
			sims[v.Name] = &lazySim{host: v.GetHost(), port: *v.TelnetPort}
		}

		// Per-vehicle monitor fed by its own subscription.
		mon := monitor.New(v.Name, v.StateLabels, cfg.GetMonitorMaxSamples())
		monitors = append(monitors, mon)
		_, monCh := ep.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			mon.Run(ctx, monCh)
		}()

		if database != nil {
			name := v.Name
			_, recCh := ep.Subscribe()
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case values, ok := <-recCh:
						if !ok {
							return
						}
						if err := database.RecordState(name, values); err != nil {
							log.Printf("failed to record state for %s: %v", name, err)
						}
					case <-ctx.Done():
						return
					}
				}
			}()
		}

		if v.Serial != nil {
			mux, err := openSerialTap(v.Serial, *devMode)
			if err != nil {
				log.Fatalf("failed to open serial tap for %s: %v", v.Name, err)
			}
			defer mux.Close()

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mux.Monitor(ctx); err != nil && err != context.Canceled {
					log.Printf("serial tap monitor terminated: %v", err)
				}
			}()

			name := v.Name
			endpoint := ep
			_, lineCh := mux.Subscribe()
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case line, ok := <-lineCh:
						if !ok {
							return
						}
						if err := endpoint.IngestLine(line); err != nil {
							log.Printf("serial tap %s: bad line: %v", name, err)
						}
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	// Periodic per-endpoint packet statistics.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.GetStatsInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, ep := range endpoints {
					ep.LogStats()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach admin routes: %v", err)
			}
		}
		for _, mon := range monitors {
			mon.AttachDebugRoutes(mux)
		}

		apiMux := api.NewServer(endpoints, sims, database).ServeMux()
		mux.Handle("/api/", api.LoggingMiddleware(apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

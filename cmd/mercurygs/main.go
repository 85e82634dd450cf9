package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dbehnke/mercurygs/internal/api"
	"github.com/dbehnke/mercurygs/internal/config"
	"github.com/dbehnke/mercurygs/internal/database"
	"github.com/dbehnke/mercurygs/internal/journal"
	"github.com/dbehnke/mercurygs/internal/link"
	"github.com/dbehnke/mercurygs/internal/protocol"
	"github.com/dbehnke/mercurygs/internal/simulator"
	"github.com/dbehnke/mercurygs/internal/transport"
)

const (
	VERSION = "1.0.0"

	STATS_INTERVAL   = 60 * time.Second
	SHUTDOWN_TIMEOUT = 5 * time.Second
)

// GroundStation wires the link engine to its journal, API and config reloads
type GroundStation struct {
	config *config.Config
	engine *link.Engine

	// In-process device when Medium=sim
	device    *simulator.Device
	deviceEnd *transport.Pipe

	// Journal components (when database mode is enabled)
	db       *database.DB
	repo     *database.JournalRepository
	recorder *journal.Recorder

	apiServer *http.Server

	mu      sync.Mutex
	timeout uint32
	rate    float64
}

// NewGroundStation loads configFile and builds every enabled component
func NewGroundStation(configFile string) (*GroundStation, error) {
	cfg := config.NewConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if path := cfg.GetLogFilePath(); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	gs := &GroundStation{
		config:  cfg,
		timeout: cfg.GetTimeout(),
		rate:    cfg.GetRate(),
	}

	codec := protocol.Codec{
		LegacyLengthFold: cfg.GetLegacyLengthFold(),
		MaxPayloadLength: cfg.GetMaxPayload(),
	}

	t, err := gs.newTransport(codec)
	if err != nil {
		return nil, err
	}

	gs.engine = link.New(t, link.Options{
		Timeout: cfg.GetTimeoutDuration(),
		Rate:    cfg.GetRate(),
		Codec:   codec,
		Debug:   cfg.GetDebug(),
		Logger:  log.New(log.Writer(), "[LINK] ", log.LstdFlags),
	})

	if cfg.GetDatabaseEnabled() {
		if err := gs.initializeJournal(); err != nil {
			log.Printf("Journal disabled: %v", err)
		}
	}

	if cfg.GetAPIEnabled() {
		var samples api.SampleSource
		if gs.repo != nil {
			samples = gs.repo
		}
		srv := api.New(gs.engine, samples, log.New(log.Writer(), "[API] ", log.LstdFlags))
		gs.apiServer = &http.Server{
			Addr:              cfg.GetAPIAddress(),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return gs, nil
}

// newTransport creates the configured medium. For sim the far end of a pipe
// is served by an in-process device.
func (gs *GroundStation) newTransport(codec protocol.Codec) (transport.Transport, error) {
	cfg := gs.config
	readTimeout := time.Duration(cfg.GetSerialReadTimeout()) * time.Millisecond

	switch cfg.GetMedium() {
	case transport.MEDIUM_SERIAL:
		return transport.NewSerial(transport.SerialConfig{
			Port:        cfg.GetSerialPort(),
			BaudRate:    int(cfg.GetSerialBaudRate()),
			DataBits:    int(cfg.GetSerialDataBits()),
			Parity:      cfg.GetSerialParity(),
			StopBits:    int(cfg.GetSerialStopBits()),
			ReadTimeout: readTimeout,
		}), nil

	case transport.MEDIUM_UDP:
		return transport.NewUDP(transport.UDPConfig{
			LocalAddress:  cfg.GetUDPLocalAddress(),
			LocalPort:     int(cfg.GetUDPLocalPort()),
			RemoteAddress: cfg.GetUDPRemoteAddress(),
			RemotePort:    int(cfg.GetUDPRemotePort()),
			ReadTimeout:   readTimeout,
			Debug:         cfg.GetDebug(),
		}), nil

	case transport.MEDIUM_QUIC:
		return transport.NewQUIC(transport.QUICConfig{
			Address:            cfg.GetQUICAddress(),
			ServerName:         cfg.GetQUICServerName(),
			InsecureSkipVerify: cfg.GetQUICInsecureSkipVerify(),
			ReadTimeout:        readTimeout,
		}), nil

	case transport.MEDIUM_SIM:
		ground, space := transport.NewPipe()
		ground.SetReadTimeout(readTimeout)
		space.SetReadTimeout(readTimeout)
		gs.deviceEnd = space
		gs.device = simulator.New(space, simulator.Options{
			Codec:            codec,
			PeriodicChannel:  cfg.GetSimPeriodicChannel(),
			PeriodicInterval: time.Duration(cfg.GetSimPeriodicInterval()) * time.Millisecond,
			ResponseDelay:    time.Duration(cfg.GetSimResponseDelay()) * time.Millisecond,
			Debug:            cfg.GetDebug(),
		})
		return ground, nil
	}
	return nil, transport.ValidateMedium(cfg.GetMedium())
}

// initializeJournal opens the database and subscribes the recorder
func (gs *GroundStation) initializeJournal() error {
	cfg := gs.config
	log.Printf("Initializing link journal...")

	db, err := database.NewDB(database.Config{
		Path:  cfg.GetDatabasePath(),
		Debug: cfg.GetDatabaseDebug(),
	}, log.New(log.Writer(), "[DB] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	gs.db = db
	gs.repo = database.NewJournalRepository(db.GetDB())
	gs.recorder = journal.NewRecorder(gs.repo, log.New(log.Writer(), "[JOURNAL] ", log.LstdFlags), journal.Config{
		Retention: time.Duration(cfg.GetDatabaseRetentionHours()) * time.Hour,
		Debug:     cfg.GetDatabaseDebug(),
	})
	return nil
}

// Run starts every component and blocks until ctx is cancelled
func (gs *GroundStation) Run(ctx context.Context, configFile string) error {
	cfg := gs.config
	log.Printf("Mercury ground station v%s starting", VERSION)
	log.Printf("Link: %s (timeout %dms, rate %.2f Hz, legacy length fold %v)",
		cfg.GetMedium(), cfg.GetTimeout(), cfg.GetRate(), cfg.GetLegacyLengthFold())

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if gs.device != nil {
		if err := gs.deviceEnd.Open(); err != nil {
			return fmt.Errorf("failed to open simulator link: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gs.device.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Simulator stopped: %v", err)
			}
		}()
		log.Printf("Simulated device attached")
	}

	if gs.recorder != nil {
		events, unsubscribe := gs.engine.Subscribe(journal.SubscriberBuffer)
		defer unsubscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			gs.recorder.Run(ctx, events)
		}()
	}

	if err := gs.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start link: %w", err)
	}
	defer gs.engine.Stop()

	if gs.apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("API listening on %s", gs.apiServer.Addr)
			if err := gs.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("API server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
			defer done()
			gs.apiServer.Shutdown(shutdownCtx)
		}()
	}

	watcher, err := config.NewWatcher(configFile, gs.applyConfig, log.New(log.Writer(), "[CONFIG] ", log.LstdFlags))
	if err != nil {
		log.Printf("Config live reload disabled: %v", err)
	} else {
		defer watcher.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Run(ctx)
		}()
	}

	statsTicker := time.NewTicker(STATS_INTERVAL)
	defer statsTicker.Stop()

	log.Printf("Ground station running - press Ctrl+C to stop")

	for {
		select {
		case <-ctx.Done():
			log.Printf("Shutdown requested")
			return nil

		case <-statsTicker.C:
			gs.logStatistics()
		}
	}
}

// applyConfig takes the live settings from a reloaded config file. Other
// settings need a restart.
func (gs *GroundStation) applyConfig(cfg *config.Config) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if cfg.GetTimeout() != gs.timeout {
		if err := gs.engine.SetTimeout(cfg.GetTimeoutDuration()); err != nil {
			log.Printf("Timeout change rejected: %v", err)
		} else {
			log.Printf("Timeout changed from %dms to %dms", gs.timeout, cfg.GetTimeout())
			gs.timeout = cfg.GetTimeout()
		}
	}

	if cfg.GetRate() != gs.rate {
		if err := gs.engine.AdjustRate(cfg.GetRate()); err != nil {
			log.Printf("Rate change rejected: %v", err)
		} else {
			log.Printf("Rate changed from %.2f Hz to %.2f Hz", gs.rate, cfg.GetRate())
			gs.rate = cfg.GetRate()
		}
	}
}

func (gs *GroundStation) logStatistics() {
	s := gs.engine.Stats()
	log.Printf("Stats: sent=%d received=%d responses=%d unsolicited=%d timeouts=%d pending=%d",
		s.FramesSent, s.FramesReceived, s.Responses, s.Unsolicited, s.Timeouts, s.Pending)
	if s.SyncErrors+s.InvalidTypes+s.LengthErrors+s.WriteErrors > 0 {
		log.Printf("Errors: sync=%d type=%d length=%d write=%d read=%d dropped_events=%d",
			s.SyncErrors, s.InvalidTypes, s.LengthErrors, s.WriteErrors, s.ReadErrors, s.DroppedEvents)
	}
	if gs.device != nil {
		d := gs.device.Stats()
		log.Printf("Simulator: requests=%d responses=%d periodic=%d errors=%d",
			d.Requests, d.Responses, d.Periodic, d.Errors)
	}
	if gs.recorder != nil {
		log.Printf("Journal: recorded=%d failures=%d", gs.recorder.Recorded(), gs.recorder.Failures())
	}
}

// Close releases resources that outlive Run
func (gs *GroundStation) Close() {
	if gs.deviceEnd != nil {
		gs.deviceEnd.Close()
	}
	if gs.db != nil {
		if err := gs.db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}
}

func main() {
	var (
		configFile = flag.String("config", getDefaultConfig(), "Configuration file path")
		version    = flag.Bool("version", false, "Show version information")
		listPorts  = flag.Bool("list-ports", false, "List serial ports and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("Mercury ground station v%s\n", VERSION)
		return
	}

	if *listPorts {
		ports, err := transport.ListPorts()
		if err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return
	}

	// Handle non-flag arguments (config file)
	if flag.NArg() > 0 {
		*configFile = flag.Arg(0)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Mercury ground station v%s starting with config: %s", VERSION, *configFile)

	gs, err := NewGroundStation(*configFile)
	if err != nil {
		log.Fatalf("Failed to create ground station: %v", err)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	err = gs.Run(ctx, *configFile)
	gs.Close()
	if err != nil {
		log.Fatalf("Ground station error: %v", err)
	}

	log.Printf("Mercury ground station stopped")
}

// getDefaultConfig returns the default configuration file path
func getDefaultConfig() string {
	// Check for config file in current directory first
	if _, err := os.Stat("mercurygs.ini"); err == nil {
		return "mercurygs.ini"
	}

	// Check system location
	systemConfig := "/etc/mercurygs.ini"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig
	}

	return "mercurygs.ini"
}

package main

import (
	"can-controller/internal/api"
	"can-controller/internal/can"
	"can-controller/internal/config"
	"can-controller/internal/database"
	"can-controller/internal/database/clickhouse"
	"can-controller/internal/database/influxdb"
	"can-controller/internal/models"
	"can-controller/internal/platform/sim"
	"can-controller/internal/platform/socketcan"
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// Command line flag for config file
	envFile := flag.String("env", ".env", "Path to .env configuration file")
	verbose := flag.Bool("v", false, "Debug logging for the controller")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	log.Printf("Starting CAN controller...")
	log.Printf("CAN Interface: %s (driver %s, %d bit/s, %s)", cfg.CANInterface, cfg.CANDriver, cfg.CANSpeed, cfg.CANMode)

	ctlCfg := cfg.Controller()
	ctlCfg.Logger = logger
	ctl := can.New(ctlCfg, newDriver(cfg))

	for _, f := range cfg.Filters {
		index, err := ctl.AddFilter(f.ID, f.Mask, f.Extended, f.Tag)
		if err != nil {
			log.Fatalf("Failed to add filter %X/%X: %v", f.ID, f.Mask, err)
		}
		log.Printf("Filter %d: id=%X mask=%X extended=%t tag=%d", index, f.ID, f.Mask, f.Extended, f.Tag)
	}

	if err := ctl.Begin(); err != nil {
		log.Fatalf("Failed to start CAN controller: %v", err)
	}
	if !ctl.WaitRunning(time.Second) {
		log.Printf("Warning: bus not operational yet (state %s)", ctl.State().State)
	}

	rec, err := newRecorder(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create recorder: %v", err)
	}

	server := api.NewServer(api.ServerConfig{Port: cfg.APIPort}, ctl, rec.history)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rec.messages != nil {
		rec.messages.Start()
		go pumpMessages(ctx, ctl, rec.messages)
	}
	if rec.status != nil {
		rec.status.Start()
		go pumpStatus(ctx, ctl, rec.status, time.Duration(cfg.StatsInterval)*time.Second)
	}

	log.Println("Controller started successfully. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("API server shutdown: %v", err)
	}
	if err := ctl.End(); err != nil {
		log.Printf("Controller shutdown: %v", err)
	}
	if err := rec.Close(); err != nil {
		log.Printf("Recorder shutdown: %v", err)
	}
	log.Printf("Final statistics: %d inbound frames dropped", ctl.Dropped())
}

func newDriver(cfg *config.Config) can.Driver {
	if cfg.CANDriver == config.DriverSim {
		drv := sim.New()
		drv.SetLoopback(true)
		return drv
	}
	var opts []socketcan.Option
	if cfg.CANVirtual {
		opts = append(opts, socketcan.Virtual())
	}
	return socketcan.New(cfg.CANInterface, opts...)
}

// recorder bundles the optional writers and history of one backend
type recorder struct {
	messages database.Writer
	status   database.StatusWriter
	history  api.History
	closers  []func() error
}

func (r *recorder) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func newRecorder(cfg *config.Config, logger *slog.Logger) (*recorder, error) {
	rec := &recorder{}
	switch cfg.Recorder {
	case config.RecorderClickHouse:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, err := clickhouse.Open(ctx, clickhouse.Config{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			return nil, err
		}
		messages, err := clickhouse.New(ctx, conn, cfg.ClickHouseTable, cfg.BatchSize, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		status, err := clickhouse.NewStatusWriter(ctx, conn, cfg.ClickHouseStatusTable, max(cfg.BatchSize/10, 1), logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		rec.messages, rec.status = messages, status
		rec.history = clickhouse.NewHistory(conn, cfg.ClickHouseTable, cfg.ClickHouseStatusTable)
		rec.closers = []func() error{messages.Close, status.Close, conn.Close}
		log.Printf("Recording to ClickHouse: %s:%d/%s.%s", cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDatabase, cfg.ClickHouseTable)

	case config.RecorderInfluxDB:
		messages, err := influxdb.New(influxdb.Config{
			URL:         cfg.InfluxDBURL,
			Token:       cfg.InfluxDBToken,
			Database:    cfg.InfluxDBDatabase,
			Measurement: cfg.InfluxDBMeasurement,
		}, cfg.BatchSize, logger)
		if err != nil {
			return nil, err
		}
		rec.messages = messages
		rec.closers = []func() error{messages.Close}
		log.Printf("Recording to InfluxDB: %s/%s", cfg.InfluxDBURL, cfg.InfluxDBDatabase)
	}
	return rec, nil
}

// pumpMessages hands every delivery to the writer
func pumpMessages(ctx context.Context, ctl *can.Controller, w database.Writer) {
	var count uint64
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ctl.Messages():
			w.Write(msg)
			count++
			// Log every 1000 messages
			if count%1000 == 0 {
				log.Printf("Recorded %d messages (dropped inbound: %d)", count, ctl.Dropped())
			}
		}
	}
}

// pumpStatus records a snapshot on every bus state change and otherwise at
// most once per interval
func pumpStatus(ctx context.Context, ctl *can.Controller, w database.StatusWriter, interval time.Duration) {
	var (
		last     models.BusState = -1
		lastSent time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-ctl.StatusUpdates():
			if st.State == last && st.Timestamp.Sub(lastSent) < interval {
				continue
			}
			if st.State != last {
				log.Printf("Bus state %s: tec=%d rec=%d", st.State, st.TXErrorCounter, st.RXErrorCounter)
			}
			w.Write(st)
			last, lastSent = st.State, st.Timestamp
		}
	}
}

// Package config loads process configuration from a .env file and the
// environment.
package config

import (
	"bufio"
	"can-controller/internal/can"
	"can-controller/internal/models"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Driver names accepted by CAN_DRIVER
const (
	DriverSocketCAN = "socketcan"
	DriverSim       = "sim"
)

// Recorder names accepted by RECORDER
const (
	RecorderNone       = "none"
	RecorderClickHouse = "clickhouse"
	RecorderInfluxDB   = "influxdb"
)

// Config holds all application configuration
type Config struct {
	// CAN controller
	CANDriver          string `env:"CAN_DRIVER" envDefault:"socketcan"`
	CANInterface       string `env:"CAN_INTERFACE" envDefault:"vcan0"`
	CANVirtual         bool   `env:"CAN_VIRTUAL" envDefault:"false"`
	CANTxPin           int    `env:"CAN_TX_PIN" envDefault:"0"`
	CANRxPin           int    `env:"CAN_RX_PIN" envDefault:"0"`
	CANSpeed           int    `env:"CAN_SPEED" envDefault:"125000"`
	CANMode            string `env:"CAN_MODE" envDefault:"normal"`
	CANFilters         string `env:"CAN_FILTERS"`
	WatchdogIntervalMS int    `env:"WATCHDOG_INTERVAL_MS" envDefault:"200"`
	StatsInterval      int    `env:"STATS_INTERVAL" envDefault:"10"`

	// Recording
	Recorder string `env:"RECORDER" envDefault:"none"`

	// ClickHouse
	ClickHouseHost        string `env:"CLICKHOUSE_HOST" envDefault:"localhost"`
	ClickHousePort        int    `env:"CLICKHOUSE_PORT" envDefault:"9000"`
	ClickHouseDatabase    string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	ClickHouseUsername    string `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	ClickHousePassword    string `env:"CLICKHOUSE_PASSWORD"`
	ClickHouseTable       string `env:"CLICKHOUSE_TABLE" envDefault:"can_messages"`
	ClickHouseStatusTable string `env:"CLICKHOUSE_STATUS_TABLE" envDefault:"can_bus_status"`

	// InfluxDB
	InfluxDBURL         string `env:"INFLUXDB_URL" envDefault:"http://localhost:8181"`
	InfluxDBToken       string `env:"INFLUXDB_TOKEN"`
	InfluxDBDatabase    string `env:"INFLUXDB_DATABASE" envDefault:"can_messages"`
	InfluxDBMeasurement string `env:"INFLUXDB_MEASUREMENT" envDefault:"can_messages"`

	// General
	BatchSize int `env:"BATCH_SIZE" envDefault:"1000"`
	APIPort   int `env:"API_PORT" envDefault:"8080"`

	// Filters is CANFilters parsed by LoadConfig
	Filters []FilterSpec `env:"-"`
}

// LoadConfig loads the .env file into the environment, without overriding
// variables that are already set, then decodes the environment. A missing
// .env file is not an error.
func LoadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadEnvFile(envFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Printf("No .env file found at %s, using environment and defaults", envFile)
	}

	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("error decoding environment: %w", err)
	}

	filters, err := ParseFilters(config.CANFilters)
	if err != nil {
		return nil, err
	}
	config.Filters = filters

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values the decoder cannot
func (c *Config) Validate() error {
	switch c.CANDriver {
	case DriverSocketCAN, DriverSim:
	default:
		return fmt.Errorf("CAN_DRIVER: unknown driver %q", c.CANDriver)
	}
	switch c.Recorder {
	case RecorderNone, RecorderClickHouse, RecorderInfluxDB:
	default:
		return fmt.Errorf("RECORDER: unknown recorder %q", c.Recorder)
	}
	if _, err := can.SpeedFromBitrate(c.CANSpeed); err != nil {
		return fmt.Errorf("CAN_SPEED: %w", err)
	}
	if _, err := can.ParseMode(c.CANMode); err != nil {
		return fmt.Errorf("CAN_MODE: %w", err)
	}
	if len(c.Filters) > can.FilterCapacity {
		return fmt.Errorf("CAN_FILTERS: %d filters, at most %d: %w", len(c.Filters), can.FilterCapacity, can.ErrTableFull)
	}
	if c.WatchdogIntervalMS <= 0 {
		return fmt.Errorf("WATCHDOG_INTERVAL_MS must be positive, got %d", c.WatchdogIntervalMS)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Controller builds the controller configuration
func (c *Config) Controller() can.Config {
	cfg := can.DefaultConfig()
	cfg.Interface = c.CANInterface
	cfg.TxPin = c.CANTxPin
	cfg.RxPin = c.CANRxPin
	cfg.Speed, _ = can.SpeedFromBitrate(c.CANSpeed)
	cfg.Mode, _ = can.ParseMode(c.CANMode)
	cfg.WatchdogInterval = time.Duration(c.WatchdogIntervalMS) * time.Millisecond
	return cfg
}

// loadEnvFile copies KEY=VALUE lines into the environment
func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("error setting %s: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}
	return nil
}

// FilterSpec is one configured acceptance filter
type FilterSpec struct {
	ID       uint32
	Mask     uint32
	Extended bool
	Tag      int
}

// ParseFilters parses comma-separated filters of the form id[/mask][/ext][:tag]
// with hexadecimal id and mask, e.g. "420/7FF:1, 18FEF100/1FFFF00/ext".
// A missing mask matches the id exactly; ids above 0x7FF imply ext.
func ParseFilters(s string) ([]FilterSpec, error) {
	var filters []FilterSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := parseFilter(part)
		if err != nil {
			return nil, fmt.Errorf("CAN_FILTERS: %q: %w", part, err)
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func parseFilter(s string) (FilterSpec, error) {
	f := FilterSpec{Tag: models.NoTag}

	if body, tag, ok := strings.Cut(s, ":"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(tag))
		if err != nil {
			return f, fmt.Errorf("bad tag: %w", err)
		}
		f.Tag = n
		s = body
	}

	fields := strings.Split(s, "/")
	if len(fields) > 3 {
		return f, errors.New("too many fields")
	}
	id, err := parseHex(fields[0])
	if err != nil {
		return f, fmt.Errorf("bad id: %w", err)
	}
	f.ID = id

	hasMask := false
	for _, field := range fields[1:] {
		field = strings.TrimSpace(field)
		switch {
		case strings.EqualFold(field, "ext"):
			f.Extended = true
		case strings.EqualFold(field, "std"):
		case !hasMask:
			if f.Mask, err = parseHex(field); err != nil {
				return f, fmt.Errorf("bad mask: %w", err)
			}
			hasMask = true
		default:
			return f, fmt.Errorf("unexpected field %q", field)
		}
	}

	if f.ID > models.MaxStandardID {
		f.Extended = true
	}
	limit := uint32(models.MaxStandardID)
	if f.Extended {
		limit = models.MaxExtendedID
	}
	if f.ID > limit {
		return f, models.ErrInvalidID
	}
	if !hasMask {
		f.Mask = limit
	}
	return f, nil
}

func parseHex(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

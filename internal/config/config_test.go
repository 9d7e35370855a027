package config

import (
	"can-controller/internal/can"
	"can-controller/internal/models"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

var configKeys = []string{
	"CAN_DRIVER", "CAN_INTERFACE", "CAN_VIRTUAL", "CAN_TX_PIN", "CAN_RX_PIN", "CAN_SPEED",
	"CAN_MODE", "CAN_FILTERS", "WATCHDOG_INTERVAL_MS", "STATS_INTERVAL", "RECORDER",
	"CLICKHOUSE_HOST", "CLICKHOUSE_PORT", "BATCH_SIZE", "API_PORT", "INFLUXDB_DATABASE",
}

// clearEnv unsets the keys for the duration of the test
func clearEnv(t *testing.T) {
	for _, key := range configKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	Convey("Without a .env file the defaults apply", t, func() {
		clearEnv(t)
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
		So(err, ShouldBeNil)
		So(cfg.CANDriver, ShouldEqual, DriverSocketCAN)
		So(cfg.CANInterface, ShouldEqual, "vcan0")
		So(cfg.CANSpeed, ShouldEqual, 125000)
		So(cfg.Recorder, ShouldEqual, RecorderNone)
		So(cfg.BatchSize, ShouldEqual, 1000)
		So(cfg.APIPort, ShouldEqual, 8080)
		So(cfg.Filters, ShouldBeEmpty)
	})

	Convey("Given a .env file", t, func() {
		clearEnv(t)
		path := writeEnvFile(t, `
# controller
CAN_DRIVER=sim
CAN_INTERFACE="can1"
CAN_SPEED=500000
CAN_MODE='listen-only'
export CAN_FILTERS=420/7FF:1,200/F00:2
WATCHDOG_INTERVAL_MS=50
not a pair
API_PORT=9090
`)

		Convey("Its values are decoded", func() {
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.CANDriver, ShouldEqual, DriverSim)
			So(cfg.CANInterface, ShouldEqual, "can1")
			So(cfg.APIPort, ShouldEqual, 9090)
			So(cfg.Filters, ShouldResemble, []FilterSpec{
				{ID: 0x420, Mask: 0x7FF, Tag: 1},
				{ID: 0x200, Mask: 0xF00, Tag: 2},
			})

			ctl := cfg.Controller()
			So(ctl.Interface, ShouldEqual, "can1")
			So(ctl.Speed, ShouldEqual, can.Speed500K)
			So(ctl.Mode, ShouldEqual, can.ModeListenOnly)
			So(ctl.WatchdogInterval, ShouldEqual, 50*time.Millisecond)
		})

		Convey("The environment wins over the file", func() {
			os.Setenv("CAN_INTERFACE", "can7")
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.CANInterface, ShouldEqual, "can7")
		})
	})

	Convey("Invalid values are rejected", t, func() {
		cases := map[string]string{
			"CAN_DRIVER":           "twai",
			"RECORDER":             "kafka",
			"CAN_SPEED":            "123456",
			"CAN_MODE":             "loopback",
			"WATCHDOG_INTERVAL_MS": "0",
			"CAN_FILTERS":          "zz/7FF",
		}
		for key, value := range cases {
			clearEnv(t)
			os.Setenv(key, value)
			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
			So(err, ShouldNotBeNil)
			os.Unsetenv(key)
		}
	})

	Convey("A non-numeric port fails decoding", t, func() {
		clearEnv(t)
		os.Setenv("API_PORT", "http")
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
		So(err, ShouldNotBeNil)
		os.Unsetenv("API_PORT")
	})
}

func TestParseFilters(t *testing.T) {
	Convey("Filters parse from id/mask/ext:tag lists", t, func() {
		filters, err := ParseFilters(" 0x420 , 200/F00:3, 18FEF100/1FFFF00/ext:9, 7E8/std ")
		So(err, ShouldBeNil)
		So(filters, ShouldResemble, []FilterSpec{
			{ID: 0x420, Mask: 0x7FF, Tag: models.NoTag},
			{ID: 0x200, Mask: 0xF00, Tag: 3},
			{ID: 0x18FEF100, Mask: 0x1FFFF00, Extended: true, Tag: 9},
			{ID: 0x7E8, Mask: 0x7FF, Tag: models.NoTag},
		})
	})

	Convey("Identifiers above 11 bits imply the extended format", t, func() {
		filters, err := ParseFilters("18DAF110")
		So(err, ShouldBeNil)
		So(filters[0].Extended, ShouldBeTrue)
		So(filters[0].Mask, ShouldEqual, uint32(models.MaxExtendedID))
	})

	Convey("An empty list yields no filters", t, func() {
		filters, err := ParseFilters("")
		So(err, ShouldBeNil)
		So(filters, ShouldBeEmpty)
	})

	Convey("Malformed entries are errors", t, func() {
		for _, s := range []string{"xyz", "420/7FF/ext/1", "420:tag", "420/7FF/7FF", "20000000/ext"} {
			_, err := ParseFilters(s)
			So(err, ShouldNotBeNil)
		}
		_, err := ParseFilters("20000000")
		So(errors.Is(err, models.ErrInvalidID), ShouldBeTrue)
	})
}

package can

import (
	"can-controller/internal/models"
	"fmt"
	"strings"
	"time"
)

// Driver is the platform primitive the controller runs on top of. It owns
// bit-level arbitration, transmission, reception and bus-off reporting.
//
// Transmit and Receive must return within their timeout. Receive reports an
// empty bus with an error wrapping ErrTimeout.
type Driver interface {
	Install(cfg DriverConfig) error
	Start() error
	Stop() error
	Uninstall() error

	Transmit(frame models.CANFrame, timeout time.Duration) error
	Receive(timeout time.Duration) (models.CANFrame, error)

	Status() (models.BusStatus, error)
	InitiateRecovery() error
}

// DriverConfig is handed to Driver.Install on every Begin
type DriverConfig struct {
	Interface string
	TxPin     int
	RxPin     int
	Bitrate   int
	Mode      Mode
}

// NoPin marks an unassigned TX or RX pin
const NoPin = -1

// Mode selects the controller operating mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeListenOnly
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeListenOnly:
		return "listen-only"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "normal" and "listen-only"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ModeNormal, nil
	case "listen-only", "listen_only", "listenonly":
		return ModeListenOnly, nil
	}
	return ModeNormal, fmt.Errorf("unknown mode %q", s)
}

// Speed is a nominal bus bit rate
type Speed int

const (
	Speed25K Speed = iota
	Speed50K
	Speed100K
	Speed125K
	Speed250K
	Speed500K
	Speed800K
	Speed1M
)

// DefaultSpeed is used until SetSpeed is called
const DefaultSpeed = Speed125K

var speedBitrates = [...]int{
	Speed25K:  25000,
	Speed50K:  50000,
	Speed100K: 100000,
	Speed125K: 125000,
	Speed250K: 250000,
	Speed500K: 500000,
	Speed800K: 800000,
	Speed1M:   1000000,
}

// Bitrate returns the speed in bits per second. Unknown values map to 1 Mbit/s.
func (s Speed) Bitrate() int {
	if s < 0 || int(s) >= len(speedBitrates) {
		return speedBitrates[Speed1M]
	}
	return speedBitrates[s]
}

func (s Speed) String() string {
	bps := s.Bitrate()
	if bps >= 1000000 {
		return fmt.Sprintf("%dMbit/s", bps/1000000)
	}
	return fmt.Sprintf("%dkbit/s", bps/1000)
}

// SpeedFromBitrate finds the speed for an exact bit rate
func SpeedFromBitrate(bps int) (Speed, error) {
	for s, v := range speedBitrates {
		if v == bps {
			return Speed(s), nil
		}
	}
	return DefaultSpeed, fmt.Errorf("unsupported bitrate %d", bps)
}

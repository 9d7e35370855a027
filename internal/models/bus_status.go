package models

import (
	"fmt"
	"strings"
	"time"
)

// BusState is the health state reported by the platform driver
type BusState int

const (
	StateStopped BusState = iota
	StateErrorActive
	StateErrorWarning
	StateErrorPassive
	StateBusOff
	StateRecovering
)

var busStateNames = map[BusState]string{
	StateStopped:      "STOPPED",
	StateErrorActive:  "ERROR-ACTIVE",
	StateErrorWarning: "ERROR-WARNING",
	StateErrorPassive: "ERROR-PASSIVE",
	StateBusOff:       "BUS-OFF",
	StateRecovering:   "RECOVERING",
}

func (s BusState) String() string {
	if name, ok := busStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("BusState(%d)", int(s))
}

// Operational reports whether frames can be exchanged in this state
func (s BusState) Operational() bool {
	switch s {
	case StateErrorActive, StateErrorWarning, StateErrorPassive:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler
func (s BusState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *BusState) UnmarshalText(text []byte) error {
	v, err := ParseBusState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseBusState maps the kernel's CAN state names onto BusState.
// SocketCAN reports STOPPED and SLEEPING for a controller that is not running.
func ParseBusState(name string) (BusState, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR-ACTIVE":
		return StateErrorActive, nil
	case "ERROR-WARNING":
		return StateErrorWarning, nil
	case "ERROR-PASSIVE":
		return StateErrorPassive, nil
	case "BUS-OFF":
		return StateBusOff, nil
	case "RECOVERING":
		return StateRecovering, nil
	case "STOPPED", "SLEEPING", "":
		return StateStopped, nil
	}
	return StateStopped, fmt.Errorf("unknown bus state %q", name)
}

// BusStatus is a snapshot of bus health as sampled by the watchdog
type BusStatus struct {
	Interface string    `json:"interface"`
	Timestamp time.Time `json:"timestamp"`

	State     BusState `json:"state"`
	Bitrate   int      `json:"bitrate"`    // Bitrate in bps
	RestartMS int      `json:"restart_ms"` // Auto-restart delay in ms, 0 when disabled

	// Error counters
	TXErrorCounter int `json:"tx_error_counter"`
	RXErrorCounter int `json:"rx_error_counter"`

	// Driver queues
	MsgsToTX int `json:"msgs_to_tx"` // Frames waiting for transmission
	MsgsToRX int `json:"msgs_to_rx"` // Frames waiting to be read

	// Traffic
	RXPackets    uint64 `json:"rx_packets"`
	TXPackets    uint64 `json:"tx_packets"`
	RXErrors     uint64 `json:"rx_errors"`
	TXErrors     uint64 `json:"tx_errors"`
	RXDropped    uint64 `json:"rx_dropped"`
	RXOverErrors uint64 `json:"rx_over_errors"` // Receiver ring buffer overflow

	// CAN-specific event counts
	ArbitrationLost uint64 `json:"arbitration_lost"`
	BusErrors       uint64 `json:"bus_errors"`
	ErrorWarning    uint64 `json:"error_warning"`
	ErrorPassive    uint64 `json:"error_passive"`
	BusOff          uint64 `json:"bus_off"`
	BusOffRestarts  uint64 `json:"bus_off_restarts"`
}

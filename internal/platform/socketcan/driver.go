// Package socketcan implements can.Driver on Linux SocketCAN.
//
// Bit rate, listen-only mode, link up/down and bus-off restart are applied
// through iproute2 ("ip link"), so Install, Start, Stop and InitiateRecovery
// need CAP_NET_ADMIN. Frames travel over a raw CAN socket.
package socketcan

import (
	"can-controller/internal/can"
	"can-controller/internal/models"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Runner executes the ip command with the given arguments
type Runner func(args ...string) ([]byte, error)

// Driver is a SocketCAN can.Driver
type Driver struct {
	iface   string
	virtual bool
	run     Runner

	mu        sync.Mutex
	fd        int
	installed bool
	started   bool
}

// Option configures a Driver
type Option func(*Driver)

// WithRunner replaces the ip command runner
func WithRunner(r Runner) Option {
	return func(d *Driver) { d.run = r }
}

// Virtual marks a vcan interface: bit timing and bus-off restart do not apply
func Virtual() Option {
	return func(d *Driver) { d.virtual = true }
}

// New creates a driver for the named interface. The interface in the
// DriverConfig passed to Install takes precedence when set.
func New(iface string, opts ...Option) *Driver {
	d := &Driver{iface: iface, fd: -1, run: runIP}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func runIP(args ...string) ([]byte, error) {
	out, err := exec.Command("ip", args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("ip %s: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Install configures bit timing and mode on the link and opens the socket
func (d *Driver) Install(cfg can.DriverConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.installed {
		return fmt.Errorf("install %s: %w", d.iface, can.ErrInvalidState)
	}
	if cfg.Interface != "" {
		d.iface = cfg.Interface
	}
	if d.iface == "" {
		return fmt.Errorf("no interface: %w", can.ErrInvalidArg)
	}

	if _, err := d.run("link", "set", "dev", d.iface, "down"); err != nil {
		return err
	}
	if !d.virtual {
		listenOnly := "off"
		if cfg.Mode == can.ModeListenOnly {
			listenOnly = "on"
		}
		args := []string{"link", "set", "dev", d.iface, "type", "can",
			"bitrate", strconv.Itoa(cfg.Bitrate),
			"listen-only", listenOnly,
			"restart-ms", "0",
		}
		if _, err := d.run(args...); err != nil {
			return err
		}
	}

	fd, err := openSocket(d.iface)
	if err != nil {
		return err
	}
	d.fd = fd
	d.installed = true
	return nil
}

// Start brings the link up
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed {
		return fmt.Errorf("start %s: %w", d.iface, can.ErrInvalidState)
	}
	if _, err := d.run("link", "set", "dev", d.iface, "up"); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop brings the link down
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return fmt.Errorf("stop %s: %w", d.iface, can.ErrInvalidState)
	}
	d.started = false
	_, err := d.run("link", "set", "dev", d.iface, "down")
	return err
}

// Uninstall closes the socket
func (d *Driver) Uninstall() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed {
		return fmt.Errorf("uninstall %s: %w", d.iface, can.ErrInvalidState)
	}
	err := closeSocket(d.fd)
	d.fd = -1
	d.installed = false
	return err
}

func (d *Driver) socket() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return -1, can.ErrInvalidState
	}
	return d.fd, nil
}

// Transmit writes one frame, waiting at most timeout for queue space
func (d *Driver) Transmit(frame models.CANFrame, timeout time.Duration) error {
	fd, err := d.socket()
	if err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	return writeFrame(fd, frame, timeout)
}

// Receive reads one frame, waiting at most timeout
func (d *Driver) Receive(timeout time.Duration) (models.CANFrame, error) {
	fd, err := d.socket()
	if err != nil {
		return models.CANFrame{}, fmt.Errorf("receive: %w", err)
	}
	return readFrame(fd, timeout)
}

// Status samples link state and counters from "ip -details -statistics"
func (d *Driver) Status() (models.BusStatus, error) {
	out, err := d.run("-details", "-statistics", "link", "show", d.iface)
	if err != nil {
		return models.BusStatus{}, err
	}
	st := ParseIPOutput(string(out))
	st.Interface = d.iface
	return st, nil
}

// InitiateRecovery requests a manual bus-off restart
func (d *Driver) InitiateRecovery() error {
	if d.virtual {
		return fmt.Errorf("restart %s: %w", d.iface, can.ErrUnsupported)
	}
	_, err := d.run("link", "set", "dev", d.iface, "type", "can", "restart")
	return err
}

// Package sim provides an in-memory CAN driver for tests and dry runs.
//
// The driver follows the same install/start/stop/uninstall rules as real
// hardware, records every transmitted frame, replays scripted bus states and
// lets callers inject inbound frames or force failures.
package sim

import (
	"can-controller/internal/can"
	"can-controller/internal/models"
	"fmt"
	"sync"
	"time"
)

const rxBufferSize = 256

// TxRecord records one transmitted frame
type TxRecord struct {
	Frame     models.CANFrame
	Timestamp time.Time
}

// Driver is a simulated can.Driver. It is safe for concurrent use.
type Driver struct {
	mu sync.Mutex

	installed bool
	started   bool
	cfg       can.DriverConfig
	installs  int

	rx       chan models.CANFrame
	tx       []TxRecord
	loopback bool

	state      models.BusState
	script     []models.BusState
	lastState  models.BusState
	recoveries []models.BusState

	installErr  error
	startErr    error
	stopErr     error
	transmitErr error
	recoveryErr error
}

// New creates a driver whose bus goes ERROR-ACTIVE once started
func New() *Driver {
	return &Driver{
		rx:    make(chan models.CANFrame, rxBufferSize),
		state: models.StateErrorActive,
	}
}

// SetLoopback makes transmitted frames come back through Receive
func (d *Driver) SetLoopback(on bool) {
	d.mu.Lock()
	d.loopback = on
	d.mu.Unlock()
}

// SetState sets the state reported while started and no script is pending
func (d *Driver) SetState(s models.BusState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// SetStatusSequence scripts the states returned by successive Status calls.
// The last state keeps being reported once the script is exhausted.
func (d *Driver) SetStatusSequence(states ...models.BusState) {
	d.mu.Lock()
	d.script = append([]models.BusState(nil), states...)
	if len(states) > 0 {
		d.state = states[len(states)-1]
	}
	d.mu.Unlock()
}

// FailInstall makes the next installs fail with err until cleared with nil
func (d *Driver) FailInstall(err error) { d.setErr(&d.installErr, err) }

// FailStart makes starts fail with err until cleared with nil
func (d *Driver) FailStart(err error) { d.setErr(&d.startErr, err) }

// FailStop makes stops fail with err until cleared with nil
func (d *Driver) FailStop(err error) { d.setErr(&d.stopErr, err) }

// FailTransmit makes transmits fail with err until cleared with nil
func (d *Driver) FailTransmit(err error) { d.setErr(&d.transmitErr, err) }

// FailRecovery makes recovery requests fail with err until cleared with nil
func (d *Driver) FailRecovery(err error) { d.setErr(&d.recoveryErr, err) }

func (d *Driver) setErr(dst *error, err error) {
	d.mu.Lock()
	*dst = err
	d.mu.Unlock()
}

// Inject queues an inbound frame. It blocks when the receive buffer is full.
func (d *Driver) Inject(frame models.CANFrame) {
	d.rx <- frame
}

// Install implements can.Driver
func (d *Driver) Install(cfg can.DriverConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.installErr != nil {
		return d.installErr
	}
	if d.installed {
		return fmt.Errorf("already installed: %w", can.ErrInvalidState)
	}
	d.installed = true
	d.cfg = cfg
	d.installs++
	return nil
}

// Start implements can.Driver
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed || d.started {
		return fmt.Errorf("start: %w", can.ErrInvalidState)
	}
	if d.startErr != nil {
		return d.startErr
	}
	d.started = true
	return nil
}

// Stop implements can.Driver
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return fmt.Errorf("stop: %w", can.ErrInvalidState)
	}
	d.started = false
	return d.stopErr
}

// Uninstall implements can.Driver
func (d *Driver) Uninstall() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed || d.started {
		return fmt.Errorf("uninstall: %w", can.ErrInvalidState)
	}
	d.installed = false
	return nil
}

// Transmit implements can.Driver
func (d *Driver) Transmit(frame models.CANFrame, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return fmt.Errorf("transmit: %w", can.ErrInvalidState)
	}
	if frame.DLC > models.FrameDataSize {
		return fmt.Errorf("dlc %d: %w", frame.DLC, can.ErrInvalidArg)
	}
	if d.transmitErr != nil {
		return d.transmitErr
	}
	d.tx = append(d.tx, TxRecord{Frame: frame, Timestamp: time.Now()})
	if d.loopback {
		select {
		case d.rx <- frame:
		default:
		}
	}
	return nil
}

// Receive implements can.Driver
func (d *Driver) Receive(timeout time.Duration) (models.CANFrame, error) {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return models.CANFrame{}, fmt.Errorf("receive: %w", can.ErrInvalidState)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-d.rx:
		return f, nil
	case <-t.C:
		return models.CANFrame{}, can.ErrTimeout
	}
}

// Status implements can.Driver
func (d *Driver) Status() (models.BusStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := models.BusStatus{
		Interface: d.cfg.Interface,
		Bitrate:   d.cfg.Bitrate,
		TXPackets: uint64(len(d.tx)),
		MsgsToRX:  len(d.rx),
	}
	switch {
	case !d.started:
		st.State = models.StateStopped
	case len(d.script) > 0:
		st.State = d.script[0]
		d.script = d.script[1:]
	default:
		st.State = d.state
	}
	if st.State == models.StateBusOff {
		st.TXErrorCounter = 256
	}
	d.lastState = st.State
	return st, nil
}

// InitiateRecovery implements can.Driver
func (d *Driver) InitiateRecovery() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recoveries = append(d.recoveries, d.lastState)
	if d.recoveryErr != nil {
		return d.recoveryErr
	}
	if !d.started {
		return fmt.Errorf("recovery: %w", can.ErrInvalidState)
	}
	return nil
}

// Transmitted returns every frame accepted by Transmit
func (d *Driver) Transmitted() []TxRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TxRecord(nil), d.tx...)
}

// Recoveries returns the last sampled state at each recovery request
func (d *Driver) Recoveries() []models.BusState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.BusState(nil), d.recoveries...)
}

// Installed reports whether the driver is installed
func (d *Driver) Installed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installed
}

// Started reports whether the driver is started
func (d *Driver) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Installs counts successful installs
func (d *Driver) Installs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installs
}

// Config returns the configuration of the latest install
func (d *Driver) Config() can.DriverConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

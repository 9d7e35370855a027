package can

import (
	"can-controller/internal/models"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default timing
const (
	DefaultQueueSize        = 64
	DefaultSendTimeout      = 4 * time.Millisecond
	DefaultReceiveWait      = 100 * time.Millisecond
	DefaultWatchdogInterval = 200 * time.Millisecond
	DefaultIdleInterval     = 10 * time.Millisecond

	statusBufferSize = 16
	waitPollInterval = 10 * time.Millisecond
)

// Config holds controller configuration. Zero durations and sizes take the
// defaults above.
type Config struct {
	Interface string
	TxPin     int
	RxPin     int
	Speed     Speed
	Mode      Mode

	SendTimeout      time.Duration
	ReceiveWait      time.Duration
	WatchdogInterval time.Duration
	IdleInterval     time.Duration
	QueueSize        int

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultConfig returns a configuration with unassigned pins
func DefaultConfig() Config {
	return Config{
		TxPin: NoPin,
		RxPin: NoPin,
		Speed: DefaultSpeed,
		Mode:  ModeNormal,
	}
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ReceiveWait <= 0 {
		c.ReceiveWait = DefaultReceiveWait
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Controller owns one driver, its filter table and the bus health snapshot.
//
// Begin starts a receive goroutine and a watchdog goroutine; End stops both
// before touching the driver. Neither may be called from those goroutines or
// from code they call synchronously.
type Controller struct {
	cfg Config
	drv Driver
	log *slog.Logger

	// lifeMu serializes Begin and End. It is always taken before mu.
	lifeMu sync.Mutex

	mu      sync.Mutex
	speed   Speed
	running bool
	status  models.BusStatus
	phase   Phase
	filters FilterTable
	stop    chan struct{}

	wg       sync.WaitGroup
	inbox    chan models.CANMessage
	ready    chan struct{}
	statusCh chan models.BusStatus
	dropped  atomic.Uint64
}

// New creates a stopped controller on top of drv
func New(cfg Config, drv Driver) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:      cfg,
		drv:      drv,
		log:      cfg.Logger.With("component", "can", "interface", cfg.Interface),
		speed:    cfg.Speed,
		inbox:    make(chan models.CANMessage, cfg.QueueSize),
		ready:    make(chan struct{}, 1),
		statusCh: make(chan models.BusStatus, statusBufferSize),
	}
	c.filters.Clear()
	c.status = models.BusStatus{Interface: cfg.Interface, State: models.StateStopped}
	return c
}

// Begin installs and starts the driver and the background loops. A running
// controller is torn down and reinstalled first. On failure nothing stays
// installed.
func (c *Controller) Begin() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.cfg.TxPin < 0 || c.cfg.RxPin < 0 {
		return ErrPinsUnset
	}
	if err := c.teardown(); err != nil {
		c.log.Warn("teardown before restart failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dcfg := DriverConfig{
		Interface: c.cfg.Interface,
		TxPin:     c.cfg.TxPin,
		RxPin:     c.cfg.RxPin,
		Bitrate:   c.speed.Bitrate(),
		Mode:      c.cfg.Mode,
	}
	if err := c.drv.Install(dcfg); err != nil {
		return &LifecycleError{Op: "install", Err: err}
	}
	if err := c.drv.Start(); err != nil {
		if uerr := c.drv.Uninstall(); uerr != nil {
			c.log.Error("uninstall after failed start", "error", uerr)
		}
		return &LifecycleError{Op: "start", Err: err}
	}

	c.phase = PhaseHealthy
	if st, err := c.drv.Status(); err != nil {
		c.log.Warn("initial status sample failed", "error", err)
		c.status = models.BusStatus{State: models.StateStopped}
	} else {
		c.status = st
	}
	c.stampStatus(&c.status)
	c.running = true

	stop := make(chan struct{})
	c.stop = stop
	c.wg.Add(2)
	go c.receiveLoop(stop)
	go c.watchdogLoop(stop)

	c.log.Info("can controller started", "speed", c.speed.String(), "mode", c.cfg.Mode.String(), "state", c.status.State.String())
	return nil
}

// End stops the loops, then stops and uninstalls the driver. It is a no-op
// on a controller that is not running.
func (c *Controller) End() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.teardown()
}

// teardown requires lifeMu
func (c *Controller) teardown() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	close(stop)
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if err := c.drv.Stop(); err != nil {
		errs = append(errs, &LifecycleError{Op: "stop", Err: err})
	}
	if err := c.drv.Uninstall(); err != nil {
		errs = append(errs, &LifecycleError{Op: "uninstall", Err: err})
	}
	c.status.State = models.StateStopped
	c.stampStatus(&c.status)
	c.log.Info("can controller stopped")
	return errors.Join(errs...)
}

// SetSpeed changes the bit rate used by the next Begin
func (c *Controller) SetSpeed(s Speed) {
	c.mu.Lock()
	c.speed = s
	c.mu.Unlock()
}

// Speed returns the configured bit rate
func (c *Controller) Speed() Speed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Running reports whether the driver is installed and started
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// State returns the latest bus health snapshot
func (c *Controller) State() models.BusStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Phase returns the watchdog's view of bus health
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// WaitRunning polls until the controller is running on an operational bus or
// timeout elapses. A zero timeout checks once.
func (c *Controller) WaitRunning(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.operational() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		time.Sleep(min(remaining, waitPollInterval))
	}
}

func (c *Controller) operational() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.status.State.Operational()
}

// Send transmits a data frame.
//
// A frame with a non-zero Interval is rate gated: before f.NextSend the call
// returns ErrThrottled without touching the driver; otherwise NextSend is
// advanced by Interval before transmitting, whether or not the transmit
// succeeds. Driver failures are returned wrapping both ErrTransmit and the
// driver's error.
func (c *Controller) Send(f *models.Frame) error {
	if f == nil || !f.HasData() {
		return ErrNoData
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	if !c.status.State.Operational() {
		return ErrBusUnhealthy
	}
	if f.Interval > 0 {
		now := c.cfg.Now()
		if now.Before(f.NextSend) {
			return ErrThrottled
		}
		f.NextSend = now.Add(f.Interval)
	}
	if err := c.drv.Transmit(f.CANFrame(), c.cfg.SendTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransmit, f.IDString(), err)
	}
	return nil
}

// Receive pops the oldest classified frame without blocking
func (c *Controller) Receive() (models.CANMessage, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	default:
		return models.CANMessage{}, false
	}
}

// Messages exposes the inbound queue for consumers that want to block or
// select on it. Receive and Messages drain the same queue.
func (c *Controller) Messages() <-chan models.CANMessage {
	return c.inbox
}

// Ready is signalled after a delivery. Several deliveries may collapse into
// one signal, so consumers drain with Receive until it reports false.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// StatusUpdates delivers every snapshot the watchdog samples. Updates are
// dropped while the channel is full.
func (c *Controller) StatusUpdates() <-chan models.BusStatus {
	return c.statusCh
}

// Dropped returns how many inbound frames were discarded on queue overflow
func (c *Controller) Dropped() uint64 {
	return c.dropped.Load()
}

// SetFilter stores a filter at index and returns the index
func (c *Controller) SetFilter(index int, id, mask uint32, extended bool, tag int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters.Set(index, id, mask, extended, tag)
}

// AddFilter stores a filter in the first free slot and returns its index
func (c *Controller) AddFilter(id, mask uint32, extended bool, tag int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters.Add(id, mask, extended, tag)
}

// GetFilter returns a copy of the filter at index
func (c *Controller) GetFilter(index int) models.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters.Get(index)
}

// Filters returns a copy of the whole table
func (c *Controller) Filters() []models.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters.Snapshot()
}

// ClearFilters resets every filter slot
func (c *Controller) ClearFilters() {
	c.mu.Lock()
	c.filters.Clear()
	c.mu.Unlock()
}

func (c *Controller) stampStatus(st *models.BusStatus) {
	st.Timestamp = c.cfg.Now()
	if st.Interface == "" {
		st.Interface = c.cfg.Interface
	}
}

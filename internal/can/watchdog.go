package can

import (
	"can-controller/internal/models"
	"time"
)

// Phase is the watchdog's view of bus health
type Phase int

const (
	PhaseHealthy Phase = iota
	PhaseBusOff
	PhaseRecoveryInFlight
)

func (p Phase) String() string {
	switch p {
	case PhaseHealthy:
		return "healthy"
	case PhaseBusOff:
		return "bus-off"
	case PhaseRecoveryInFlight:
		return "recovery-in-flight"
	}
	return "unknown"
}

// watchdogLoop samples bus health every WatchdogInterval until stop is closed
func (c *Controller) watchdogLoop(stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkHealth()
		case <-stop:
			return
		}
	}
}

// checkHealth refreshes the snapshot and triggers recovery while the bus is
// off. Drivers report StateRecovering while a request is in flight, so a
// BUS-OFF sample always means no recovery is running. A failed request is
// retried on the next tick.
func (c *Controller) checkHealth() {
	st, err := c.drv.Status()
	if err != nil {
		c.log.Warn("status sample failed", "error", err)
		return
	}
	c.stampStatus(&st)

	c.mu.Lock()
	prev := c.phase
	c.status = st
	switch st.State {
	case models.StateBusOff:
		c.phase = PhaseBusOff
	case models.StateRecovering:
		c.phase = PhaseRecoveryInFlight
	default:
		c.phase = PhaseHealthy
	}
	c.mu.Unlock()

	if prev != PhaseHealthy && st.State != models.StateBusOff && st.State != models.StateRecovering {
		c.log.Info("bus recovered", "state", st.State.String())
	}

	c.publish(st)

	if st.State != models.StateBusOff {
		return
	}
	if err := c.drv.InitiateRecovery(); err != nil {
		c.log.Error("bus-off recovery request failed", "error", err, "tec", st.TXErrorCounter, "rec", st.RXErrorCounter)
		return
	}
	c.mu.Lock()
	c.phase = PhaseRecoveryInFlight
	c.mu.Unlock()
	c.log.Warn("bus-off, recovery initiated", "tec", st.TXErrorCounter, "rec", st.RXErrorCounter)
}

// publish hands the snapshot to StatusUpdates, dropping it when nobody reads
func (c *Controller) publish(st models.BusStatus) {
	select {
	case c.statusCh <- st:
	default:
	}
}

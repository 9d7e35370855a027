package can

import (
	"can-controller/internal/models"
	"errors"
	"time"
)

// receiveLoop pulls frames from the driver, classifies them and queues them
// for consumers until stop is closed
func (c *Controller) receiveLoop(stop <-chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if !c.Running() {
			if !sleep(stop, c.cfg.IdleInterval) {
				return
			}
			continue
		}

		raw, err := c.drv.Receive(c.cfg.ReceiveWait)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			c.log.Warn("receive failed", "error", err)
			if !sleep(stop, c.cfg.IdleInterval) {
				return
			}
			continue
		}

		c.deliver(c.classify(raw))
	}
}

// classify runs the dispatcher against the filter table
func (c *Controller) classify(raw models.CANFrame) models.CANMessage {
	frame := models.FrameFromCAN(raw)

	c.mu.Lock()
	index, tag := c.filters.Dispatch(&frame)
	c.mu.Unlock()

	return models.CANMessage{
		Frame:       frame,
		FilterIndex: index,
		Tag:         tag,
		Timestamp:   c.cfg.Now(),
		Interface:   c.cfg.Interface,
	}
}

// deliver queues msg, discarding the oldest queued message when full.
// The receive loop is the only producer, so the retry terminates.
func (c *Controller) deliver(msg models.CANMessage) {
	for {
		select {
		case c.inbox <- msg:
			c.signalReady()
			return
		default:
		}

		select {
		case <-c.inbox:
			n := c.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				c.log.Warn("inbound queue full, dropping oldest frame", "dropped", n)
			}
		default:
		}
	}
}

func (c *Controller) signalReady() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// sleep waits for d and reports false if stop closed first
func sleep(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// Package database records controller output: delivered frames and bus
// health snapshots.
package database

import "can-controller/internal/models"

// Writer records delivered frames
type Writer interface {
	// Start begins processing and writing messages
	Start()

	// Write queues a message for writing. It never blocks.
	Write(msg models.CANMessage)

	// Close flushes what is queued and releases the connection
	Close() error
}

// StatusWriter records bus health snapshots
type StatusWriter interface {
	Start()
	Write(st models.BusStatus)
	Close() error
}

//go:build !linux

package socketcan

import (
	"can-controller/internal/can"
	"can-controller/internal/models"
	"time"
)

func openSocket(string) (int, error) { return -1, can.ErrUnsupported }

func closeSocket(int) error { return can.ErrUnsupported }

func readFrame(int, time.Duration) (models.CANFrame, error) {
	return models.CANFrame{}, can.ErrUnsupported
}

func writeFrame(int, models.CANFrame, time.Duration) error { return can.ErrUnsupported }

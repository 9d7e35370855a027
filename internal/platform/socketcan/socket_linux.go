//go:build linux

package socketcan

import (
	"can-controller/internal/can"
	"can-controller/internal/models"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const canRaw = 1

// openSocket creates a raw CAN socket bound to ifname
func openSocket(ifname string) (int, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return -1, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to create ifreq: %w", err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to get interface index: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to bind socket: %w", err)
	}
	return fd, nil
}

func closeSocket(fd int) error {
	return unix.Close(fd)
}

// setTimeout applies SO_RCVTIMEO or SO_SNDTIMEO. A zero timeval would block
// forever, so the timeout is clamped to at least one millisecond.
func setTimeout(fd int, opt int, d time.Duration) error {
	if d < time.Millisecond {
		d = time.Millisecond
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, opt, &tv)
}

func readFrame(fd int, timeout time.Duration) (models.CANFrame, error) {
	if err := setTimeout(fd, unix.SO_RCVTIMEO, timeout); err != nil {
		return models.CANFrame{}, fmt.Errorf("set receive timeout: %w", err)
	}
	var buf [frameSize]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return models.CANFrame{}, classify("read", err)
	}
	return unmarshalFrame(buf[:n])
}

func writeFrame(fd int, f models.CANFrame, timeout time.Duration) error {
	buf, err := marshalFrame(f)
	if err != nil {
		return fmt.Errorf("%v: %w", err, can.ErrInvalidArg)
	}
	if err := setTimeout(fd, unix.SO_SNDTIMEO, timeout); err != nil {
		return fmt.Errorf("set send timeout: %w", err)
	}
	n, err := unix.Write(fd, buf[:])
	if err != nil {
		return classify("write", err)
	}
	if n != frameSize {
		return fmt.Errorf("short write %d bytes: %w", n, can.ErrFail)
	}
	return nil
}

// classify maps errno values onto the driver error taxonomy
func classify(op string, err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.ENOBUFS):
		return fmt.Errorf("%s: %w", op, can.ErrTimeout)
	case errors.Is(err, unix.ENETDOWN), errors.Is(err, unix.EBADF):
		return fmt.Errorf("%s: %v: %w", op, err, can.ErrInvalidState)
	case errors.Is(err, unix.EINVAL):
		return fmt.Errorf("%s: %v: %w", op, err, can.ErrInvalidArg)
	}
	return fmt.Errorf("%s: %v: %w", op, err, can.ErrFail)
}

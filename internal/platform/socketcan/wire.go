package socketcan

import (
	"can-controller/internal/models"
	"encoding/binary"
	"fmt"
)

// struct can_frame layout and id flags
const (
	frameSize = 16

	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000
	canEffMask = 0x1FFFFFFF
	canSffMask = 0x7FF
)

// marshalFrame encodes a frame in the Linux struct can_frame layout:
// can_id (LE, with EFF/RTR flags), dlc, 3 bytes padding, 8 data bytes
func marshalFrame(f models.CANFrame) ([frameSize]byte, error) {
	var buf [frameSize]byte
	if f.DLC > models.FrameDataSize {
		return buf, fmt.Errorf("dlc %d exceeds %d", f.DLC, models.FrameDataSize)
	}
	id := f.ID
	if f.Extended {
		id = id&canEffMask | canEffFlag
	} else {
		id &= canSffMask
	}
	if f.RTR {
		id |= canRtrFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.DLC
	copy(buf[8:], f.Data[:f.DLC])
	return buf, nil
}

// unmarshalFrame decodes a struct can_frame
func unmarshalFrame(buf []byte) (models.CANFrame, error) {
	if len(buf) < frameSize {
		return models.CANFrame{}, fmt.Errorf("incomplete CAN frame received: %d bytes", len(buf))
	}
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&canErrFlag != 0 {
		return models.CANFrame{}, fmt.Errorf("error frame 0x%08X", raw)
	}
	f := models.CANFrame{
		Extended: raw&canEffFlag != 0,
		RTR:      raw&canRtrFlag != 0,
		DLC:      buf[4],
	}
	if f.Extended {
		f.ID = raw & canEffMask
	} else {
		f.ID = raw & canSffMask
	}
	if f.DLC > models.FrameDataSize {
		f.DLC = models.FrameDataSize
	}
	copy(f.Data[:], buf[8:16])
	return f, nil
}

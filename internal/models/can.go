package models

import "time"

// CANFrame represents a raw CAN 2.0 frame as exchanged with the platform driver
type CANFrame struct {
	ID       uint32
	DLC      uint8
	Extended bool
	RTR      bool
	Data     [8]byte
}

// CANMessage is a classified inbound frame handed to consumers
type CANMessage struct {
	Frame       Frame
	FilterIndex int // -1 when no filter matched
	Tag         int // dispatch tag of the matching filter, -1 when none
	Timestamp   time.Time
	Interface   string
}

// Matched reports whether a configured filter classified the message
func (m CANMessage) Matched() bool {
	return m.FilterIndex >= 0
}

// CANMessageResponse represents a CAN message in API response
type CANMessageResponse struct {
	Timestamp   time.Time `json:"timestamp"`
	Interface   string    `json:"interface"`
	CANID       uint32    `json:"can_id"`
	CANIDHex    string    `json:"can_id_hex"`
	Extended    bool      `json:"extended"`
	DLC         uint8     `json:"dlc"`
	Data        []uint8   `json:"data"`
	DataHex     string    `json:"data_hex"`
	FilterIndex int       `json:"filter_index"`
	Tag         int       `json:"tag"`
}

// Response converts the message into its API representation
func (m CANMessage) Response() CANMessageResponse {
	payload := m.Frame.Payload()
	return CANMessageResponse{
		Timestamp:   m.Timestamp,
		Interface:   m.Interface,
		CANID:       m.Frame.ID,
		CANIDHex:    m.Frame.IDString(),
		Extended:    m.Frame.Extended,
		DLC:         m.Frame.Len,
		Data:        append([]uint8(nil), payload...),
		DataHex:     HexString(payload),
		FilterIndex: m.FilterIndex,
		Tag:         m.Tag,
	}
}

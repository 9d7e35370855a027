package socketcan

import (
	"can-controller/internal/models"
	"testing"
)

func TestMarshalFrame_Layout(t *testing.T) {
	f := models.CANFrame{ID: 0x123, DLC: 2, Data: [8]byte{0xDE, 0xAD, 0xFF}}
	buf, err := marshalFrame(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := [frameSize]byte{0x23, 0x01, 0x00, 0x00, 2, 0, 0, 0, 0xDE, 0xAD}
	if buf != want {
		t.Fatalf("layout = % X, want % X", buf, want)
	}
}

func TestMarshalFrame_Flags(t *testing.T) {
	f := models.CANFrame{ID: 0x1ABCDEFF, Extended: true, RTR: true}
	buf, err := marshalFrame(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if buf[3]&0x80 == 0 || buf[3]&0x40 == 0 {
		t.Fatalf("EFF/RTR flags missing: % X", buf[:4])
	}
	got, err := unmarshalFrame(buf[:])
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != f {
		t.Fatalf("got %+v want %+v", got, f)
	}
}

func TestMarshalFrame_RejectsLongDLC(t *testing.T) {
	if _, err := marshalFrame(models.CANFrame{ID: 1, DLC: 9}); err == nil {
		t.Fatalf("expected error for dlc 9")
	}
}

func TestUnmarshalFrame_Errors(t *testing.T) {
	if _, err := unmarshalFrame(make([]byte, 8)); err == nil {
		t.Fatalf("expected error for short buffer")
	}
	buf := make([]byte, frameSize)
	buf[3] = 0x20 // CAN_ERR_FLAG
	if _, err := unmarshalFrame(buf); err == nil {
		t.Fatalf("expected error for error frame")
	}
}

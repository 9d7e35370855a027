package socketcan

import (
	"can-controller/internal/models"
	"testing"
)

const ipErrorActive = `3: can0: <NOARP,UP,LOWER_UP,ECHO> mtu 16 qdisc pfifo_fast state UP mode DEFAULT group default qlen 10
    link/can  promiscuity 0 minmtu 0 maxmtu 0
    can state ERROR-ACTIVE (berr-counter tx 3 rx 7) restart-ms 0
	  bitrate 125000 sample-point 0.875
	  tq 500 prop-seg 6 phase-seg1 7 phase-seg2 2 sjw 1 brp 4
	  sja1000: tseg1 1..16 tseg2 1..8 sjw 1..4 brp 1..64 brp-inc 1
	  clock 8000000
	  re-started bus-errors arbit-lost error-warn error-pass bus-off
	  2          11         5          4          3          1          numtxqueues 1 numrxqueues 1
    RX: bytes  packets  errors  dropped overrun mcast
    1200       150      2       1       6       0
    TX: bytes  packets  errors  dropped carrier collsns
    800        100      9       0       0       0
`

const ipBusOff = `3: can0: <NOARP,UP,LOWER_UP,ECHO> mtu 16 qdisc pfifo_fast state UP mode DEFAULT group default qlen 10
    link/can  promiscuity 0
    can state BUS-OFF restart-ms 0
	  bitrate 500000 sample-point 0.875
`

const ipListenOnly = `3: can0: <NOARP,UP,LOWER_UP,ECHO> mtu 16 qdisc pfifo_fast state UP mode DEFAULT group default qlen 10
    link/can  promiscuity 0
    can <LISTEN-ONLY> state ERROR-PASSIVE (berr-counter tx 0 rx 130) restart-ms 0
`

const ipVcanDown = `5: vcan0: <NOARP> mtu 72 qdisc noop state DOWN mode DEFAULT group default qlen 1000
    link/can  promiscuity 0
    vcan numtxqueues 1
`

const ipVcanUp = `5: vcan0: <NOARP,UP,LOWER_UP> mtu 72 qdisc noqueue state UNKNOWN mode DEFAULT group default qlen 1000
    link/can  promiscuity 0
`

func TestParseIPOutput_ErrorActive(t *testing.T) {
	st := ParseIPOutput(ipErrorActive)

	if st.State != models.StateErrorActive {
		t.Fatalf("state = %v, want ERROR-ACTIVE", st.State)
	}
	if st.TXErrorCounter != 3 || st.RXErrorCounter != 7 {
		t.Fatalf("berr counters = %d/%d, want 3/7", st.TXErrorCounter, st.RXErrorCounter)
	}
	if st.Bitrate != 125000 {
		t.Fatalf("bitrate = %d", st.Bitrate)
	}
	if st.MsgsToTX != 10 {
		t.Fatalf("qlen = %d", st.MsgsToTX)
	}
	if st.BusOffRestarts != 2 || st.BusErrors != 11 || st.ArbitrationLost != 5 ||
		st.ErrorWarning != 4 || st.ErrorPassive != 3 || st.BusOff != 1 {
		t.Fatalf("can stats mismatch: %+v", st)
	}
	if st.RXPackets != 150 || st.RXErrors != 2 || st.RXDropped != 1 || st.RXOverErrors != 6 {
		t.Fatalf("rx stats mismatch: %+v", st)
	}
	if st.TXPackets != 100 || st.TXErrors != 9 {
		t.Fatalf("tx stats mismatch: %+v", st)
	}
}

func TestParseIPOutput_States(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   models.BusState
	}{
		{"bus-off", ipBusOff, models.StateBusOff},
		{"listen-only passive", ipListenOnly, models.StateErrorPassive},
		{"vcan down", ipVcanDown, models.StateStopped},
		{"vcan up", ipVcanUp, models.StateErrorActive},
		{"empty", "", models.StateStopped},
	}
	for _, tc := range cases {
		if got := ParseIPOutput(tc.output).State; got != tc.want {
			t.Fatalf("%s: state = %v, want %v", tc.name, got, tc.want)
		}
	}
	if st := ParseIPOutput(ipListenOnly); st.RXErrorCounter != 130 {
		t.Fatalf("listen-only rec = %d, want 130", st.RXErrorCounter)
	}
}

package socketcan

import (
	"can-controller/internal/models"
	"regexp"
	"strconv"
	"strings"
)

var (
	reFlags     = regexp.MustCompile(`<([^>]+)>`)
	reCANState  = regexp.MustCompile(`can (?:<[^>]*> )?state ([A-Z-]+)`)
	reBerr      = regexp.MustCompile(`berr-counter tx (\d+) rx (\d+)`)
	reRestartMS = regexp.MustCompile(`restart-ms (\d+)`)
	reBitrate   = regexp.MustCompile(`bitrate (\d+)`)
	reQlen      = regexp.MustCompile(`qlen (\d+)`)
)

// ParseIPOutput parses the text output of "ip -details -statistics link show".
//
// Real CAN links report "can state ...". Links without one (vcan) are
// ERROR-ACTIVE while administratively up and STOPPED otherwise.
func ParseIPOutput(output string) models.BusStatus {
	var st models.BusStatus
	lines := strings.Split(output, "\n")
	sawCANState := false
	linkUp := false

	for i, line := range lines {
		line = strings.TrimSpace(line)

		if i == 0 {
			// Example: "3: can0: <NOARP,UP,LOWER_UP,ECHO> mtu 16 qdisc pfifo_fast state UP mode DEFAULT group default qlen 10"
			if m := reFlags.FindStringSubmatch(line); len(m) > 1 {
				for _, flag := range strings.Split(m[1], ",") {
					if flag == "UP" {
						linkUp = true
					}
				}
			}
			if m := reQlen.FindStringSubmatch(line); len(m) > 1 {
				st.MsgsToTX, _ = strconv.Atoi(m[1])
			}
			continue
		}

		// Example: "can state ERROR-ACTIVE (berr-counter tx 0 rx 0) restart-ms 0"
		if m := reCANState.FindStringSubmatch(line); len(m) > 1 {
			if state, err := models.ParseBusState(m[1]); err == nil {
				st.State = state
				sawCANState = true
			}
			if m := reBerr.FindStringSubmatch(line); len(m) > 2 {
				st.TXErrorCounter, _ = strconv.Atoi(m[1])
				st.RXErrorCounter, _ = strconv.Atoi(m[2])
			}
			if m := reRestartMS.FindStringSubmatch(line); len(m) > 1 {
				st.RestartMS, _ = strconv.Atoi(m[1])
			}
			continue
		}

		// Example: "bitrate 500000 sample-point 0.875"
		if strings.HasPrefix(line, "bitrate ") {
			if m := reBitrate.FindStringSubmatch(line); len(m) > 1 {
				st.Bitrate, _ = strconv.Atoi(m[1])
			}
			continue
		}

		// Header "re-started bus-errors arbit-lost error-warn error-pass bus-off"
		// followed by a row of values
		if strings.HasPrefix(line, "re-started") && i+1 < len(lines) {
			v := parseUints(lines[i+1], 6)
			st.BusOffRestarts = v[0]
			st.BusErrors = v[1]
			st.ArbitrationLost = v[2]
			st.ErrorWarning = v[3]
			st.ErrorPassive = v[4]
			st.BusOff = v[5]
			continue
		}

		// "RX: bytes packets errors dropped overrun mcast" followed by values
		if strings.HasPrefix(line, "RX:") && i+1 < len(lines) {
			v := parseUints(lines[i+1], 5)
			st.RXPackets = v[1]
			st.RXErrors = v[2]
			st.RXDropped = v[3]
			st.RXOverErrors = v[4]
			continue
		}

		// "TX: bytes packets errors dropped carrier collsns" followed by values
		if strings.HasPrefix(line, "TX:") && i+1 < len(lines) {
			v := parseUints(lines[i+1], 3)
			st.TXPackets = v[1]
			st.TXErrors = v[2]
		}
	}

	if !sawCANState {
		if linkUp {
			st.State = models.StateErrorActive
		} else {
			st.State = models.StateStopped
		}
	}
	return st
}

// parseUints reads the first n numeric fields of a line; missing or
// malformed fields read as zero
func parseUints(line string, n int) []uint64 {
	out := make([]uint64, n)
	fields := strings.Fields(line)
	for i := 0; i < n && i < len(fields); i++ {
		out[i], _ = strconv.ParseUint(fields[i], 10, 64)
	}
	return out
}

package clickhouse

import (
	"can-controller/internal/models"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// columns counts the column definitions of a CREATE TABLE statement
func columns(ddl string) int {
	body := ddl[strings.Index(ddl, "(")+1 : strings.Index(ddl, ") ENGINE")]
	n := 0
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			n++
		}
	}
	return n
}

func TestMessageRow(t *testing.T) {
	Convey("Given a delivered frame", t, func() {
		ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		frame, err := models.NewFrame(0x18FEF100, []byte{0x01, 0x02, 0x03})
		So(err, ShouldBeNil)
		msg := models.CANMessage{
			Frame:       frame,
			FilterIndex: 4,
			Tag:         17,
			Timestamp:   ts,
			Interface:   "can0",
		}

		row := messageRow(msg)

		Convey("Every column of the table gets a value", func() {
			So(len(row), ShouldEqual, columns(messageTableDDL("can_messages")))
		})

		Convey("Values keep their column order", func() {
			So(row[0], ShouldEqual, ts)
			So(row[1], ShouldEqual, "can0")
			So(row[2], ShouldEqual, uint32(0x18FEF100))
			So(row[3], ShouldEqual, true)
			So(row[4], ShouldEqual, false)
			So(row[5], ShouldEqual, uint8(3))
			So(row[6], ShouldResemble, []uint8{0x01, 0x02, 0x03})
			So(row[7], ShouldEqual, int16(4))
			So(row[8], ShouldEqual, int32(17))
		})

		Convey("Unmatched frames keep the sentinel index and tag", func() {
			msg.FilterIndex = -1
			msg.Tag = models.NoTag
			row := messageRow(msg)
			So(row[7], ShouldEqual, int16(-1))
			So(row[8], ShouldEqual, int32(-1))
		})
	})
}

func TestStatusRow(t *testing.T) {
	Convey("A bus status snapshot maps onto the status table", t, func() {
		st := models.BusStatus{
			Interface:      "can0",
			Timestamp:      time.Unix(1700000000, 0),
			State:          models.StateBusOff,
			Bitrate:        500000,
			TXErrorCounter: 256,
			BusOff:         2,
			BusOffRestarts: 1,
		}
		row := statusRow(st)
		So(len(row), ShouldEqual, columns(statusTableDDL("can_bus_status")))
		So(row[2], ShouldEqual, "BUS-OFF")
		So(row[3], ShouldEqual, uint32(500000))
		So(row[5], ShouldEqual, uint32(256))
		So(row[len(row)-2], ShouldEqual, uint64(2))
		So(row[len(row)-1], ShouldEqual, uint64(1))
	})
}

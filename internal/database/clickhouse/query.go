package clickhouse

import (
	"can-controller/internal/models"
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	messageColumns = "timestamp, interface, can_id, extended, rtr, dlc, data, filter_index, tag"
	statusColumns  = `timestamp, interface, bus_state, bitrate, restart_ms,
			tx_error_counter, rx_error_counter, msgs_to_tx, msgs_to_rx,
			rx_packets, rx_errors, rx_dropped, rx_over_errors, tx_packets, tx_errors,
			arbitration_lost, bus_errors, error_warning, error_passive, bus_off, bus_off_restarts`
)

// History reads recorded messages and status snapshots back, newest first
type History struct {
	conn         driver.Conn
	messageTable string
	statusTable  string
}

// NewHistory queries the tables the writers fill
func NewHistory(conn driver.Conn, messageTable, statusTable string) *History {
	return &History{conn: conn, messageTable: messageTable, statusTable: statusTable}
}

// Messages returns recorded deliveries matching params
func (h *History) Messages(ctx context.Context, params models.QueryParams) ([]models.CANMessage, error) {
	query, args := historyQuery(messageColumns, h.messageTable, params, true)
	rows, err := h.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	messages := []models.CANMessage{}
	for rows.Next() {
		var (
			msg         models.CANMessage
			data        []uint8
			filterIndex int16
			tag         int32
		)
		if err := rows.Scan(
			&msg.Timestamp, &msg.Interface, &msg.Frame.ID, &msg.Frame.Extended, &msg.Frame.RTR,
			&msg.Frame.Len, &data, &filterIndex, &tag,
		); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		copy(msg.Frame.Data[:], data)
		msg.FilterIndex = int(filterIndex)
		msg.Tag = int(tag)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Status returns recorded bus health snapshots matching params. CANID and
// FilterIndex do not apply.
func (h *History) Status(ctx context.Context, params models.QueryParams) ([]models.BusStatus, error) {
	query, args := historyQuery(statusColumns, h.statusTable, params, false)
	rows, err := h.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	history := []models.BusStatus{}
	for rows.Next() {
		var (
			st                           models.BusStatus
			state                        string
			bitrate, restartMS, tec, rec uint32
			toTX, toRX                   uint32
		)
		if err := rows.Scan(
			&st.Timestamp, &st.Interface, &state, &bitrate, &restartMS,
			&tec, &rec, &toTX, &toRX,
			&st.RXPackets, &st.RXErrors, &st.RXDropped, &st.RXOverErrors, &st.TXPackets, &st.TXErrors,
			&st.ArbitrationLost, &st.BusErrors, &st.ErrorWarning, &st.ErrorPassive, &st.BusOff, &st.BusOffRestarts,
		); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		st.State, _ = models.ParseBusState(state)
		st.Bitrate = int(bitrate)
		st.RestartMS = int(restartMS)
		st.TXErrorCounter = int(tec)
		st.RXErrorCounter = int(rec)
		st.MsgsToTX = int(toTX)
		st.MsgsToRX = int(toRX)
		history = append(history, st)
	}
	return history, rows.Err()
}

// historyQuery builds a parameterized SELECT. Frame filters only apply to
// the message table.
func historyQuery(columns, table string, params models.QueryParams, frameFilters bool) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE 1=1", columns, table)
	args := []any{}

	if params.StartTime != nil {
		b.WriteString(" AND timestamp >= ?")
		args = append(args, *params.StartTime)
	}
	if params.EndTime != nil {
		b.WriteString(" AND timestamp <= ?")
		args = append(args, *params.EndTime)
	}
	if params.Interface != "" {
		b.WriteString(" AND interface = ?")
		args = append(args, params.Interface)
	}
	if frameFilters {
		if params.CANID != nil {
			b.WriteString(" AND can_id = ?")
			args = append(args, *params.CANID)
		}
		if params.FilterIndex != nil {
			b.WriteString(" AND filter_index = ?")
			args = append(args, int16(*params.FilterIndex))
		}
	}

	b.WriteString(" ORDER BY timestamp DESC LIMIT ?")
	limit := params.Limit
	if limit <= 0 {
		limit = models.DefaultQueryLimit
	}
	args = append(args, limit)

	if params.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, params.Offset)
	}
	return b.String(), args
}

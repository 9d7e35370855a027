package clickhouse

import (
	"can-controller/internal/database"
	"can-controller/internal/models"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const statusFlushInterval = 5 * time.Second

// StatusWriter records the bus health snapshots the watchdog samples
type StatusWriter struct {
	conn  driver.Conn
	table string
	*database.Batcher[models.BusStatus]
}

var _ database.StatusWriter = (*StatusWriter)(nil)

// NewStatusWriter creates the status table if needed and returns a stopped
// writer
func NewStatusWriter(ctx context.Context, conn driver.Conn, table string, batchSize int, log *slog.Logger) (*StatusWriter, error) {
	if err := conn.Exec(ctx, statusTableDDL(table)); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	w := &StatusWriter{conn: conn, table: table}
	w.Batcher = database.NewBatcher("clickhouse-status", batchSize, statusFlushInterval, w.flush, log)
	return w, nil
}

// Write queues a snapshot for writing
func (w *StatusWriter) Write(st models.BusStatus) {
	w.Batcher.Write(st)
}

func (w *StatusWriter) flush(ctx context.Context, batch []models.BusStatus) error {
	rows := make([][]any, 0, len(batch))
	for _, st := range batch {
		rows = append(rows, statusRow(st))
	}
	return appendRows(ctx, w.conn, w.table, rows)
}

func statusTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			interface String,
			bus_state LowCardinality(String),
			bitrate UInt32,
			restart_ms UInt32,
			tx_error_counter UInt32,
			rx_error_counter UInt32,
			msgs_to_tx UInt32,
			msgs_to_rx UInt32,

			rx_packets UInt64,
			rx_errors UInt64,
			rx_dropped UInt64,
			rx_over_errors UInt64,
			tx_packets UInt64,
			tx_errors UInt64,

			arbitration_lost UInt64,
			bus_errors UInt64,
			error_warning UInt64,
			error_passive UInt64,
			bus_off UInt64,
			bus_off_restarts UInt64
		) ENGINE = MergeTree()
		ORDER BY (timestamp, interface)
		PARTITION BY toYYYYMMDD(timestamp)
		SETTINGS index_granularity = 8192
	`, table)
}

// statusRow orders columns as in statusTableDDL
func statusRow(st models.BusStatus) []any {
	return []any{
		st.Timestamp,
		st.Interface,
		st.State.String(),
		uint32(st.Bitrate),
		uint32(st.RestartMS),
		uint32(st.TXErrorCounter),
		uint32(st.RXErrorCounter),
		uint32(st.MsgsToTX),
		uint32(st.MsgsToRX),
		st.RXPackets,
		st.RXErrors,
		st.RXDropped,
		st.RXOverErrors,
		st.TXPackets,
		st.TXErrors,
		st.ArbitrationLost,
		st.BusErrors,
		st.ErrorWarning,
		st.ErrorPassive,
		st.BusOff,
		st.BusOffRestarts,
	}
}

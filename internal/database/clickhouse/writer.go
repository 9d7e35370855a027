package clickhouse

import (
	"can-controller/internal/database"
	"can-controller/internal/models"
	"context"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Writer records delivered frames, including the filter that classified them
type Writer struct {
	conn  driver.Conn
	table string
	*database.Batcher[models.CANMessage]
}

var _ database.Writer = (*Writer)(nil)

// New creates the message table if needed and returns a stopped writer
func New(ctx context.Context, conn driver.Conn, table string, batchSize int, log *slog.Logger) (*Writer, error) {
	if err := conn.Exec(ctx, messageTableDDL(table)); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	w := &Writer{conn: conn, table: table}
	w.Batcher = database.NewBatcher("clickhouse", batchSize, database.DefaultFlushInterval, w.flush, log)
	return w, nil
}

// Write queues a message for writing
func (w *Writer) Write(msg models.CANMessage) {
	w.Batcher.Write(msg)
}

func (w *Writer) flush(ctx context.Context, batch []models.CANMessage) error {
	rows := make([][]any, 0, len(batch))
	for _, msg := range batch {
		rows = append(rows, messageRow(msg))
	}
	return appendRows(ctx, w.conn, w.table, rows)
}

func messageTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			interface String,
			can_id UInt32,
			extended Bool,
			rtr Bool,
			dlc UInt8,
			data Array(UInt8),
			filter_index Int16,
			tag Int32
		) ENGINE = MergeTree()
		ORDER BY (timestamp, can_id)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
		SETTINGS index_granularity = 8192
	`, table)
}

// messageRow orders columns as in messageTableDDL. Only the live payload
// bytes are stored.
func messageRow(msg models.CANMessage) []any {
	f := msg.Frame
	return []any{
		msg.Timestamp,
		msg.Interface,
		f.ID,
		f.Extended,
		f.RTR,
		f.Len,
		append([]uint8(nil), f.Payload()...),
		int16(msg.FilterIndex),
		int32(msg.Tag),
	}
}

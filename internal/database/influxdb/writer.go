// Package influxdb records delivered frames as InfluxDB points
package influxdb

import (
	"can-controller/internal/database"
	"can-controller/internal/models"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
)

// DefaultMeasurement is used when Config.Measurement is empty
const DefaultMeasurement = "can_messages"

// Writer handles writing CAN messages to InfluxDB
type Writer struct {
	client      *influxdb3.Client
	measurement string
	*database.Batcher[models.CANMessage]
}

var _ database.Writer = (*Writer)(nil)

// New creates a stopped writer
func New(config Config, batchSize int, log *slog.Logger) (*Writer, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	w := &Writer{client: client, measurement: config.Measurement}
	if w.measurement == "" {
		w.measurement = DefaultMeasurement
	}
	w.Batcher = database.NewBatcher("influxdb", batchSize, database.DefaultFlushInterval, w.flush, log)
	return w, nil
}

// Write queues a message for writing
func (w *Writer) Write(msg models.CANMessage) {
	w.Batcher.Write(msg)
}

// Close flushes queued points and closes the client
func (w *Writer) Close() error {
	err := w.Batcher.Close()
	if cerr := w.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (w *Writer) flush(ctx context.Context, batch []models.CANMessage) error {
	points := make([]*influxdb3.Point, 0, len(batch))
	for _, msg := range batch {
		tags, fields := pointValues(msg)
		points = append(points, influxdb3.NewPoint(w.measurement, tags, fields, msg.Timestamp))
	}
	if err := w.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write points: %w", err)
	}
	return nil
}

// pointValues splits a message into indexed tags and per-byte fields.
// Filter index and tag are tags so deliveries can be grouped by filter.
func pointValues(msg models.CANMessage) (map[string]string, map[string]any) {
	f := msg.Frame
	tags := map[string]string{
		"interface":    msg.Interface,
		"can_id":       "0x" + f.IDString(),
		"filter_index": strconv.Itoa(msg.FilterIndex),
		"tag":          strconv.Itoa(msg.Tag),
	}
	if f.Extended {
		tags["format"] = "extended"
	} else {
		tags["format"] = "standard"
	}

	fields := map[string]any{
		"can_id_decimal": int64(f.ID),
		"dlc":            int64(f.Len),
		"rtr":            f.RTR,
	}
	for i, b := range f.Payload() {
		fields["data_"+strconv.Itoa(i)] = int64(b)
	}
	return tags, fields
}

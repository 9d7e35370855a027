package models

import "time"

// QueryParams narrows a history query over recorded messages or status
// snapshots. Nil and zero fields do not filter.
type QueryParams struct {
	StartTime   *time.Time
	EndTime     *time.Time
	CANID       *uint32
	FilterIndex *int
	Interface   string
	Limit       int
	Offset      int
}

// DefaultQueryLimit applies when QueryParams.Limit is not positive
const DefaultQueryLimit = 100

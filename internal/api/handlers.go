package api

import (
	"can-controller/internal/can"
	"can-controller/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const maxDrain = 1024

type stateResponse struct {
	Running bool             `json:"running"`
	Speed   string           `json:"speed"`
	Bitrate int              `json:"bitrate"`
	Phase   string           `json:"phase"`
	Dropped uint64           `json:"dropped"`
	Status  models.BusStatus `json:"status"`
}

type speedRequest struct {
	Bitrate int `json:"bitrate"`
}

type filterRequest struct {
	Index    *int   `json:"index"`
	ID       string `json:"id"`
	Mask     string `json:"mask"`
	Extended bool   `json:"extended"`
	Tag      *int   `json:"tag"`
}

type filterResponse struct {
	Index int `json:"index"`
	models.Filter
}

type sendRequest struct {
	ID         string `json:"id"`
	Data       string `json:"data"`
	Extended   bool   `json:"extended"`
	IntervalMS int    `json:"interval_ms"`
}

func (s *Server) state() stateResponse {
	speed := s.bus.Speed()
	return stateResponse{
		Running: s.bus.Running(),
		Speed:   speed.String(),
		Bitrate: speed.Bitrate(),
		Phase:   s.bus.Phase().String(),
		Dropped: s.bus.Dropped(),
		Status:  s.bus.State(),
	}
}

// handleState returns the controller snapshot
// GET /api/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.state())
}

// handleSpeed changes the bit rate and restarts a running controller
// PUT /api/speed
func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	speed, err := can.SpeedFromBitrate(req.Bitrate)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.bus.SetSpeed(speed)
	if s.bus.Running() {
		if err := s.bus.Begin(); err != nil {
			respondWithError(w, statusForError(err), fmt.Sprintf("Restart failed: %v", err))
			return
		}
	}
	respondWithJSON(w, http.StatusOK, s.state())
}

// handleGetFilters lists the filter table; ?configured=true skips free slots
// GET /api/filters
func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	onlyConfigured, _ := strconv.ParseBool(r.URL.Query().Get("configured"))

	filters := []filterResponse{}
	for i, f := range s.bus.Filters() {
		if onlyConfigured && !f.Configured {
			continue
		}
		filters = append(filters, filterResponse{Index: i, Filter: f})
	}
	respondWithJSON(w, http.StatusOK, filters)
}

// handleSetFilter stores a filter at the given index or the first free one
// POST /api/filters
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := parseCANID(req.ID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid id: %v", err))
		return
	}
	if id > models.MaxExtendedID {
		respondWithError(w, http.StatusBadRequest, models.ErrInvalidID.Error())
		return
	}
	extended := req.Extended || id > models.MaxStandardID
	mask := uint32(models.MaxStandardID)
	if extended {
		mask = models.MaxExtendedID
	}
	if req.Mask != "" {
		if mask, err = parseCANID(req.Mask); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid mask: %v", err))
			return
		}
	}
	tag := models.NoTag
	if req.Tag != nil {
		tag = *req.Tag
	}

	var index int
	if req.Index != nil {
		index, err = s.bus.SetFilter(*req.Index, id, mask, extended, tag)
	} else {
		index, err = s.bus.AddFilter(id, mask, extended, tag)
	}
	if err != nil {
		respondWithError(w, statusForError(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, filterResponse{Index: index, Filter: s.bus.Filters()[index]})
}

// handleClearFilters resets the whole table
// DELETE /api/filters
func (s *Server) handleClearFilters(w http.ResponseWriter, r *http.Request) {
	s.bus.ClearFilters()
	w.WriteHeader(http.StatusNoContent)
}

// handleSend transmits one data frame. Requests with interval_ms share a send
// schedule per identifier, so repeats inside the interval are throttled.
// POST /api/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := parseCANID(req.ID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid id: %v", err))
		return
	}
	if len(req.Data) > 2*models.FrameDataSize {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("data longer than %d bytes", models.FrameDataSize))
		return
	}
	var buf [models.FrameDataSize]byte
	n, err := models.ParseHex(req.Data, buf[:])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid data: %v", err))
		return
	}

	frame, err := models.NewFrame(id, buf[:n])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	frame.Extended = frame.Extended || req.Extended

	if req.IntervalMS > 0 {
		err = s.sendPeriodic(frame, time.Duration(req.IntervalMS)*time.Millisecond)
	} else {
		err = s.bus.Send(&frame)
	}
	if err != nil {
		respondWithError(w, statusForError(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"sent": frame.String()})
}

// sendPeriodic sends through the stored schedule for the frame's identifier
func (s *Server) sendPeriodic(frame models.Frame, interval time.Duration) error {
	s.periodicMu.Lock()
	defer s.periodicMu.Unlock()

	key := periodicKey{id: frame.ID, extended: frame.Extended}
	scheduled, ok := s.periodic[key]
	if !ok {
		scheduled = &models.Frame{}
		s.periodic[key] = scheduled
	}
	next := scheduled.NextSend
	*scheduled = frame
	scheduled.Interval = interval
	scheduled.NextSend = next
	return s.bus.Send(scheduled)
}

// handleMessages drains up to max queued deliveries without blocking
// GET /api/messages?max=64
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := can.DefaultQueueSize
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid max")
			return
		}
		limit = min(n, maxDrain)
	}

	messages := []models.CANMessageResponse{}
	for len(messages) < limit {
		msg, ok := s.bus.Receive()
		if !ok {
			break
		}
		messages = append(messages, msg.Response())
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
		"dropped":  s.bus.Dropped(),
	})
}

// handleMessageHistory queries recorded deliveries
// GET /api/history/messages
func (s *Server) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.history.Messages(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	messages := make([]models.CANMessageResponse, 0, len(history))
	for _, msg := range history {
		messages = append(messages, msg.Response())
	}
	respondWithJSON(w, http.StatusOK, messages)
}

// handleStatusHistory queries recorded bus health snapshots
// GET /api/history/status
func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.history.Status(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}

// statusForError maps controller errors onto HTTP status codes
func statusForError(err error) int {
	var lerr *can.LifecycleError
	switch {
	case errors.Is(err, can.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, can.ErrNoData), errors.Is(err, can.ErrInvalidFrame),
		errors.Is(err, can.ErrOutOfRange), errors.Is(err, can.ErrPinsUnset),
		errors.Is(err, models.ErrInvalidID), errors.Is(err, models.ErrInvalidLen):
		return http.StatusBadRequest
	case errors.Is(err, can.ErrTableFull):
		return http.StatusConflict
	case errors.Is(err, can.ErrNotRunning), errors.Is(err, can.ErrBusUnhealthy):
		return http.StatusServiceUnavailable
	case errors.Is(err, can.ErrTransmit), errors.As(err, &lerr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

package api

import (
	"can-controller/internal/models"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseQueryParams parses history query parameters from the request
func parseQueryParams(r *http.Request) (models.QueryParams, error) {
	q := r.URL.Query()
	params := models.QueryParams{
		Limit:     models.DefaultQueryLimit,
		Interface: q.Get("interface"),
	}

	for name, dst := range map[string]**time.Time{
		"start_time": &params.StartTime,
		"end_time":   &params.EndTime,
	} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return params, fmt.Errorf("invalid %s format: %v", name, err)
			}
			*dst = &t
		}
	}

	if v := q.Get("can_id"); v != "" {
		id, err := parseCANID(v)
		if err != nil {
			return params, fmt.Errorf("invalid can_id format: %v", err)
		}
		params.CANID = &id
	}

	if v := q.Get("filter_index"); v != "" {
		index, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("invalid filter_index format: %v", err)
		}
		params.FilterIndex = &index
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("invalid limit format: %v", err)
		}
		params.Limit = limit
	}

	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("invalid offset format: %v", err)
		}
		params.Offset = offset
	}

	return params, nil
}

// parseCANID accepts hex with a 0x prefix or decimal
func parseCANID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty identifier")
	}
	var (
		v   uint64
		err error
	)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		v, err = strconv.ParseUint(s, 10, 32)
	}
	return uint32(v), err
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

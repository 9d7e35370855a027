package api

import (
	"bytes"
	"can-controller/internal/can"
	"can-controller/internal/models"
	"can-controller/internal/platform/sim"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeHistory struct {
	params   models.QueryParams
	messages []models.CANMessage
}

func (h *fakeHistory) Messages(_ context.Context, params models.QueryParams) ([]models.CANMessage, error) {
	h.params = params
	return h.messages, nil
}

func (h *fakeHistory) Status(_ context.Context, params models.QueryParams) ([]models.BusStatus, error) {
	h.params = params
	return []models.BusStatus{{Interface: "sim0", State: models.StateErrorPassive}}, nil
}

type fixture struct {
	ctl     *can.Controller
	drv     *sim.Driver
	handler http.Handler
	history *fakeHistory
}

func newFixture(t *testing.T, withHistory bool) *fixture {
	t.Helper()
	cfg := can.DefaultConfig()
	cfg.Interface = "sim0"
	cfg.TxPin, cfg.RxPin = 0, 0
	cfg.ReceiveWait = 5 * time.Millisecond
	cfg.WatchdogInterval = 5 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{drv: sim.New()}
	f.ctl = can.New(cfg, f.drv)
	if err := f.ctl.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { _ = f.ctl.End() })

	var history History
	if withHistory {
		f.history = &fakeHistory{}
		history = f.history
	}
	f.handler = NewServer(ServerConfig{Port: 0}, f.ctl, history).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectCode(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/health", "")
	expectCode(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec)["bus_state"]; got != "ERROR-ACTIVE" {
		t.Fatalf("bus_state = %v", got)
	}

	_ = f.ctl.End()
	expectCode(t, f.do(t, http.MethodGet, "/health", ""), http.StatusServiceUnavailable)
}

func TestStateAndSpeed(t *testing.T) {
	f := newFixture(t, false)

	state := decode[stateResponse](t, f.do(t, http.MethodGet, "/api/state", ""))
	if !state.Running || state.Bitrate != 125000 || state.Phase != "healthy" {
		t.Fatalf("state = %+v", state)
	}

	expectCode(t, f.do(t, http.MethodPut, "/api/speed", `{"bitrate":1234}`), http.StatusBadRequest)

	rec := f.do(t, http.MethodPut, "/api/speed", `{"bitrate":500000}`)
	expectCode(t, rec, http.StatusOK)
	if f.drv.Installs() != 2 || f.drv.Config().Bitrate != 500000 {
		t.Fatalf("restart not applied: installs %d bitrate %d", f.drv.Installs(), f.drv.Config().Bitrate)
	}
	if state := decode[stateResponse](t, rec); state.Speed != "500kbit/s" {
		t.Fatalf("speed = %s", state.Speed)
	}
}

func TestFilters(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/filters", `{"id":"0x421","mask":"0xF00","tag":7}`)
	expectCode(t, rec, http.StatusCreated)
	created := decode[filterResponse](t, rec)
	if created.Index != 0 || created.ID != 0x400 || created.Mask != 0xF00 || created.Tag != 7 {
		t.Fatalf("created = %+v", created)
	}

	rec = f.do(t, http.MethodPost, "/api/filters", `{"index":5,"id":"0x18FEF100"}`)
	expectCode(t, rec, http.StatusCreated)
	if ext := decode[filterResponse](t, rec); !ext.Extended || ext.Mask != models.MaxExtendedID || ext.Tag != models.NoTag {
		t.Fatalf("extended filter = %+v", ext)
	}

	expectCode(t, f.do(t, http.MethodPost, "/api/filters", `{"index":32,"id":"1"}`), http.StatusBadRequest)
	expectCode(t, f.do(t, http.MethodPost, "/api/filters", `{"id":"zz"}`), http.StatusBadRequest)
	expectCode(t, f.do(t, http.MethodPost, "/api/filters", `{"id":"0x40000000"}`), http.StatusBadRequest)
	expectCode(t, f.do(t, http.MethodPost, "/api/filters", `{"id":"1","bogus":true}`), http.StatusBadRequest)

	all := decode[[]filterResponse](t, f.do(t, http.MethodGet, "/api/filters", ""))
	if len(all) != can.FilterCapacity {
		t.Fatalf("listed %d slots", len(all))
	}
	configured := decode[[]filterResponse](t, f.do(t, http.MethodGet, "/api/filters?configured=true", ""))
	if len(configured) != 2 || configured[1].Index != 5 {
		t.Fatalf("configured = %+v", configured)
	}

	for i := 0; i < can.FilterCapacity-2; i++ {
		expectCode(t, f.do(t, http.MethodPost, "/api/filters", `{"id":"0x100"}`), http.StatusCreated)
	}
	expectCode(t, f.do(t, http.MethodPost, "/api/filters", `{"id":"0x100"}`), http.StatusConflict)

	expectCode(t, f.do(t, http.MethodDelete, "/api/filters", ""), http.StatusNoContent)
	configured = decode[[]filterResponse](t, f.do(t, http.MethodGet, "/api/filters?configured=true", ""))
	if len(configured) != 0 {
		t.Fatalf("filters left after clear: %+v", configured)
	}
}

func TestSend(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/send", `{"id":"0x123","data":"DEAD"}`)
	expectCode(t, rec, http.StatusAccepted)
	sent := f.drv.Transmitted()
	if len(sent) != 1 || sent[0].Frame.ID != 0x123 || sent[0].Frame.DLC != 2 || sent[0].Frame.Data[1] != 0xAD {
		t.Fatalf("transmitted %+v", sent)
	}

	expectCode(t, f.do(t, http.MethodPost, "/api/send", `{"id":"0x123","data":""}`), http.StatusBadRequest)
	expectCode(t, f.do(t, http.MethodPost, "/api/send", `{"id":"0x123","data":"ABC"}`), http.StatusBadRequest)
	expectCode(t, f.do(t, http.MethodPost, "/api/send", `{"id":"0x123","data":"001122334455667788"}`), http.StatusBadRequest)
	expectCode(t, f.do(t, http.MethodPost, "/api/send", `{"id":"0x40000000","data":"00"}`), http.StatusBadRequest)

	body := `{"id":"0x290","data":"C020","interval_ms":60000}`
	expectCode(t, f.do(t, http.MethodPost, "/api/send", body), http.StatusAccepted)
	expectCode(t, f.do(t, http.MethodPost, "/api/send", body), http.StatusTooManyRequests)
	expectCode(t, f.do(t, http.MethodPost, "/api/send", `{"id":"0x291","data":"C020","interval_ms":60000}`), http.StatusAccepted)

	f.drv.SetState(models.StateBusOff)
	deadline := time.Now().Add(2 * time.Second)
	for f.ctl.State().State != models.StateBusOff {
		if time.Now().After(deadline) {
			t.Fatalf("bus never went off")
		}
		time.Sleep(2 * time.Millisecond)
	}
	expectCode(t, f.do(t, http.MethodPost, "/api/send", `{"id":"0x123","data":"01"}`), http.StatusServiceUnavailable)

	f.drv.SetState(models.StateErrorActive)
	f.drv.FailTransmit(can.ErrTimeout)
	deadline = time.Now().Add(2 * time.Second)
	for !f.ctl.State().State.Operational() {
		if time.Now().After(deadline) {
			t.Fatalf("bus never recovered")
		}
		time.Sleep(2 * time.Millisecond)
	}
	expectCode(t, f.do(t, http.MethodPost, "/api/send", `{"id":"0x123","data":"01"}`), http.StatusBadGateway)
}

func TestMessagesDrain(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.ctl.AddFilter(0x420, 0x7FF, false, 3); err != nil {
		t.Fatal(err)
	}
	f.drv.Inject(models.CANFrame{ID: 0x420, DLC: 2, Data: [8]byte{0xBE, 0xEF}})
	f.drv.Inject(models.CANFrame{ID: 0x100, DLC: 1})

	var got []models.CANMessageResponse
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("got %d messages", len(got))
		}
		rec := f.do(t, http.MethodGet, "/api/messages?max=10", "")
		expectCode(t, rec, http.StatusOK)
		body := decode[struct {
			Messages []models.CANMessageResponse `json:"messages"`
		}](t, rec)
		got = append(got, body.Messages...)
		time.Sleep(2 * time.Millisecond)
	}

	if got[0].CANIDHex != "420" || got[0].DataHex != "BEEF" || got[0].FilterIndex != 0 || got[0].Tag != 3 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].FilterIndex != -1 || got[1].Tag != models.NoTag {
		t.Fatalf("unmatched = %+v", got[1])
	}

	expectCode(t, f.do(t, http.MethodGet, "/api/messages?max=0", ""), http.StatusBadRequest)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, true)
	frame, _ := models.NewFrame(0x420, []byte{1})
	f.history.messages = []models.CANMessage{{Frame: frame, FilterIndex: 0, Tag: 1, Interface: "sim0"}}

	rec := f.do(t, http.MethodGet, "/api/history/messages?can_id=0x420&filter_index=0&limit=5&start_time=2024-01-01T00:00:00Z", "")
	expectCode(t, rec, http.StatusOK)
	p := f.history.params
	if p.CANID == nil || *p.CANID != 0x420 || p.FilterIndex == nil || *p.FilterIndex != 0 || p.Limit != 5 || p.StartTime == nil {
		t.Fatalf("params = %+v", p)
	}
	if msgs := decode[[]models.CANMessageResponse](t, rec); len(msgs) != 1 || msgs[0].DataHex != "01" {
		t.Fatalf("messages = %+v", msgs)
	}

	rec = f.do(t, http.MethodGet, "/api/history/status?interface=sim0", "")
	expectCode(t, rec, http.StatusOK)
	if f.history.params.Interface != "sim0" || f.history.params.Limit != models.DefaultQueryLimit {
		t.Fatalf("params = %+v", f.history.params)
	}

	expectCode(t, f.do(t, http.MethodGet, "/api/history/status?start_time=yesterday", ""), http.StatusBadRequest)

	plain := newFixture(t, false)
	expectCode(t, plain.do(t, http.MethodGet, "/api/history/messages", ""), http.StatusNotFound)
}

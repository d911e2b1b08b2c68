package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/bus"
	"github.com/yasunorioi/uecs-actuatord/internal/clock"
	"github.com/yasunorioi/uecs-actuatord/internal/config"
	"github.com/yasunorioi/uecs-actuatord/internal/control"
	"github.com/yasunorioi/uecs-actuatord/internal/eventbus"
	"github.com/yasunorioi/uecs-actuatord/internal/guard"
	"github.com/yasunorioi/uecs-actuatord/internal/registry"
	"github.com/yasunorioi/uecs-actuatord/internal/statestore"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := registry.Build([]config.ActuatorConfig{
		{
			ID: "VenSdWin", Kind: "duration",
			FullOpen:  config.Duration(60 * time.Second),
			FullClose: config.Duration(55 * time.Second),
			HasLimit:  true,
			Cooling:   config.Duration(5 * time.Second),
		},
		{ID: "VenFan", Kind: "onoff", Cooling: config.Duration(2 * time.Second)},
	})
	if err != nil {
		t.Fatal(err)
	}

	store, snap, err := statestore.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	ctrl := control.New(
		reg, store, snap, bus.NewFake(), guard.New(),
		eventbus.NewWithConfig(1, 16),
		clock.NewFake(time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)),
		control.Options{QueueDepth: 16, QueueTTL: time.Minute},
	)

	s := NewServer("127.0.0.1", 0, ctrl, reg, nil)

	router := gin.New()
	router.GET("/healthz", s.handleHealth)
	router.POST("/api/v1/intents", s.handleIntent)
	router.GET("/api/v1/actuators", s.handleActuators)
	router.GET("/api/v1/state", s.handleState)
	router.GET("/api/v1/nodes", s.handleNodes)
	return s, router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	_, router := newTestServer(t)
	w := doRequest(router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestSubmitIntent(t *testing.T) {
	_, router := newTestServer(t)

	body := `{"actuator_id":"VenSdWin","target":{"kind":"percent","value":30},"level":3,"origin":"test"}`
	w := doRequest(router, http.MethodPost, "/api/v1/intents", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var resp IntentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Disposition != control.DispositionAccepted {
		t.Errorf("disposition = %q, want accepted", resp.Disposition)
	}
	if resp.JobID == "" {
		t.Error("accepted intent must carry a job id")
	}
}

func TestSubmitUnknownActuator(t *testing.T) {
	_, router := newTestServer(t)

	body := `{"actuator_id":"NoSuch","target":{"kind":"percent","value":30},"level":3}`
	w := doRequest(router, http.MethodPost, "/api/v1/intents", body)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var resp IntentResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Reason != control.ReasonUnknownActuator {
		t.Errorf("reason = %q", resp.Reason)
	}
}

func TestSubmitBadRequest(t *testing.T) {
	_, router := newTestServer(t)

	for _, body := range []string{
		`not json`,
		`{"actuator_id":"VenSdWin","target":{"kind":"warp","value":1},"level":3}`,
		`{"target":{"kind":"percent","value":30},"level":3}`,
	} {
		w := doRequest(router, http.MethodPost, "/api/v1/intents", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestBinaryIntent(t *testing.T) {
	_, router := newTestServer(t)

	body := `{"actuator_id":"VenFan","target":{"kind":"binary","on":true},"level":3}`
	w := doRequest(router, http.MethodPost, "/api/v1/intents", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var resp IntentResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Disposition != control.DispositionAccepted {
		t.Errorf("disposition = %q", resp.Disposition)
	}
}

func TestListActuators(t *testing.T) {
	_, router := newTestServer(t)

	w := doRequest(router, http.MethodGet, "/api/v1/actuators", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count     int `json:"count"`
		Actuators []struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		} `json:"actuators"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestStateEndpoint(t *testing.T) {
	_, router := newTestServer(t)

	w := doRequest(router, http.MethodGet, "/api/v1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Actuators map[string]struct {
			Position int    `json:"position_pct"`
			Phase    string `json:"phase"`
		} `json:"actuators"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if st, ok := resp.Actuators["VenSdWin"]; !ok || st.Phase != "idle" {
		t.Errorf("state = %+v", resp.Actuators)
	}
}

func TestNodesWithoutReceiver(t *testing.T) {
	_, router := newTestServer(t)

	w := doRequest(router, http.MethodGet, "/api/v1/nodes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestToIntentSecondsConversion(t *testing.T) {
	var req IntentRequest
	req.ActuatorID = "Irri"
	req.Target.Kind = "seconds"
	req.Target.Value = 90
	req.Level = 3

	intent, err := toIntent(req)
	if err != nil {
		t.Fatal(err)
	}
	if intent.RunFor != 90*time.Second {
		t.Errorf("RunFor = %s, want 90s", intent.RunFor)
	}
	if intent.Level != actuator.LevelManual {
		t.Errorf("Level = %d, want 3", intent.Level)
	}
	if intent.Origin != "api" {
		t.Errorf("default origin = %q, want api", intent.Origin)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nori-bridge/internal/config"
	"nori-bridge/internal/model"
	"nori-bridge/internal/service"
	"nori-bridge/pkg/devicetypes"
)

// fakeBridge is a scripted BridgeController
type fakeBridge struct {
	connected   bool
	connectErr  error
	lastConnect *model.ConnectRequest
	resetErr    error
	ports       []model.SerialPortInfo
	lastFilter  *model.ReadingFilter
	readings    []*model.Reading
}

func (b *fakeBridge) Connect(_ context.Context, req *model.ConnectRequest) error {
	b.lastConnect = req
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBridge) Disconnect() error {
	if !b.connected {
		return service.ErrNotConnected
	}
	b.connected = false
	return nil
}

func (b *fakeBridge) Reset() error { return b.resetErr }

func (b *fakeBridge) Status() *model.BridgeStatus {
	state := "DISCONNECTED"
	if b.connected {
		state = "CONNECTED"
	}
	return &model.BridgeStatus{SessionID: "s-1", State: state, SerialPort: "/dev/ttyACM0"}
}

func (b *fakeBridge) IsConnected() bool { return b.connected }

func (b *fakeBridge) ListPorts() ([]model.SerialPortInfo, error) { return b.ports, nil }

func (b *fakeBridge) Readings(_ context.Context, filter *model.ReadingFilter) ([]*model.Reading, error) {
	b.lastFilter = filter
	return b.readings, nil
}

func newTestRouter(bridge BridgeController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewBridgeHandler(bridge, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	NewHealthHandler(nil, bridge, &config.Config{App: config.AppConfig{Name: "nori-bridge"}}, zap.NewNop()).RegisterRoutes(router)
	return router
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestBridgeHandler_ConnectLifecycle(t *testing.T) {
	bridge := &fakeBridge{}
	router := newTestRouter(bridge)

	w := doRequest(router, http.MethodPost, "/api/v1/bridge/connect", `{"port":"/dev/ttyUSB0","baud_rate":57600}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, bridge.lastConnect)
	assert.Equal(t, "/dev/ttyUSB0", bridge.lastConnect.Port)
	assert.Equal(t, 57600, bridge.lastConnect.BaudRate)

	w = doRequest(router, http.MethodGet, "/api/v1/bridge/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "CONNECTED", data["state"])

	w = doRequest(router, http.MethodPost, "/api/v1/bridge/disconnect", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/bridge/disconnect", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBridgeHandler_ConnectErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid baud", `{"baud_rate":10}`, nil, http.StatusBadRequest},
		{"already running", "", service.ErrAlreadyRunning, http.StatusConflict},
		{"timeout", "", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"open failure", "", errors.New("permission denied"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeBridge{connectErr: tt.err})
			w := doRequest(router, http.MethodPost, "/api/v1/bridge/connect", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, false, decodeBody(t, w)["success"])
		})
	}
}

func TestBridgeHandler_Reset(t *testing.T) {
	w := doRequest(newTestRouter(&fakeBridge{resetErr: service.ErrNotConnected}), http.MethodPost, "/api/v1/bridge/reset", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(newTestRouter(&fakeBridge{connected: true}), http.MethodPost, "/api/v1/bridge/reset", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBridgeHandler_ListPorts(t *testing.T) {
	bridge := &fakeBridge{ports: []model.SerialPortInfo{{Name: "/dev/ttyACM0", Matched: true}}}
	w := doRequest(newTestRouter(bridge), http.MethodGet, "/api/v1/ports", "")
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["count"])
}

func TestBridgeHandler_ListReadings(t *testing.T) {
	bridge := &fakeBridge{readings: []*model.Reading{}}
	router := newTestRouter(bridge)

	w := doRequest(router, http.MethodGet, "/api/v1/readings?port=2&kind=10&limit=5&since=2026-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, bridge.lastFilter)
	assert.Equal(t, 2, *bridge.lastFilter.Port)
	assert.Equal(t, 10, *bridge.lastFilter.Kind)
	assert.Equal(t, 5, bridge.lastFilter.Limit)
	assert.NotNil(t, bridge.lastFilter.Since)

	w = doRequest(router, http.MethodGet, "/api/v1/readings?port=abc&since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errs := decodeBody(t, w)["data"].(map[string]interface{})["validation_errors"].(map[string]interface{})
	assert.Contains(t, errs, "port")
	assert.Contains(t, errs, "since")

	w = doRequest(router, http.MethodGet, "/api/v1/readings?kind=temper", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int(devicetypes.KindTemper), *bridge.lastFilter.Kind)

	w = doRequest(router, http.MethodGet, "/api/v1/readings?kind=LASER", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthHandler(t *testing.T) {
	bridge := &fakeBridge{}
	router := newTestRouter(bridge)

	w := doRequest(router, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	board := decodeBody(t, w)["checks"].(map[string]interface{})["board"].(map[string]interface{})
	assert.Equal(t, "degraded", board["status"])

	bridge.connected = true
	w = doRequest(router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

type failingDB struct{}

func (failingDB) Health(context.Context) error { return errors.New("connection refused") }

func TestHealthHandler_DatabaseDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHealthHandler(failingDB{}, &fakeBridge{}, &config.Config{}, zap.NewNop()).RegisterRoutes(router)

	w := doRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decodeBody(t, w)["status"])
}

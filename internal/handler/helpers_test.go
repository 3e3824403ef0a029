package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-debugger/internal/config"
	"serial-debugger/internal/discovery"
	"serial-debugger/internal/model"
	"serial-debugger/internal/protocol"
	"serial-debugger/internal/service"
	"serial-debugger/internal/session"
)

// echoTransport feeds every write back to the reader
type echoTransport struct {
	mu      sync.Mutex
	open    bool
	pending [][]byte
}

func (e *echoTransport) Open(model.PortConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = true
	return nil
}

func (e *echoTransport) ApplyConfig(model.PortConfig) error { return nil }

func (e *echoTransport) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, append([]byte(nil), p...))
	return len(p), nil
}

func (e *echoTransport) PollRead(p []byte) (int, error) {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	chunk := e.pending[0]
	e.pending = e.pending[1:]
	e.mu.Unlock()
	return copy(p, chunk), nil
}

func (e *echoTransport) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	return nil
}

func (e *echoTransport) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

type fixedPorts []*discovery.PortInfo

func (f fixedPorts) ScanAll(context.Context) ([]*discovery.PortInfo, error) {
	out := make([]*discovery.PortInfo, len(f))
	for i, p := range f {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "serial-debugger", Version: "test", Environment: "development"},
		Serial: config.SerialConfig{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "none"},
		Session: config.SessionConfig{
			PollInterval:     5 * time.Millisecond,
			ReadBufferSize:   1024,
			QueueSize:        64,
			ResponseTimeout:  time.Second,
			MaxReadRetries:   3,
			RetryMinBackoff:  time.Millisecond,
			RetryMaxBackoff:  10 * time.Millisecond,
			FrameTimeout:     100 * time.Millisecond,
			RxMode:           "raw",
			StartMarker:      0xAA,
			MonitorInterval:  time.Second,
			FaultedRetention: time.Minute,
		},
		Transfer: config.TransferConfig{ChunkSize: 64, MaxUploadSize: 1024},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBuffer:      64,
			PingPeriod:      time.Second,
			PongWait:        2 * time.Second,
			WriteWait:       time.Second,
		},
	}
}

type testEnv struct {
	config  *config.Config
	service *service.SerialService
	router  *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	opts, err := service.SessionOptions(cfg)
	require.NoError(t, err)

	manager := session.NewManager(func() protocol.Transport { return &echoTransport{} }, opts, zap.NewNop())
	ports := fixedPorts{{Name: "/dev/ttyUSB0", IsUSB: true, Chip: "FT232R"}, {Name: "/dev/ttyS0"}}
	svc, err := service.NewSerialService(manager, ports, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.CloseAll() })

	router := gin.New()
	api := router.Group("/api/v1")
	NewSessionHandler(svc, cfg, zap.NewNop()).RegisterRoutes(api)
	NewPortHandler(svc, zap.NewNop()).RegisterRoutes(api)
	ws := NewWebSocketHandler(svc, cfg, zap.NewNop())
	NewHealthHandler(svc, cfg, zap.NewNop()).WithViewers(ws).RegisterRoutes(router.Group(""))
	ws.RegisterRoutes(router.Group("/ws"))

	return &testEnv{config: cfg, service: svc, router: router}
}

// envelope mirrors utils.APIResponse with a raw data field
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (e *testEnv) openSession(t *testing.T, port string) model.SessionStatus {
	t.Helper()
	code, env := e.do(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{"port": port})
	require.Equal(t, http.StatusCreated, code, env.Message)

	var status model.SessionStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	return status
}

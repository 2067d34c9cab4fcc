package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"deskwarden/internal/domain"
	"deskwarden/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer brings up a gateway on an ephemeral port and returns it with its
// event bus. Shutdown is handled by test cleanup.
func startServer(t *testing.T) (*Server, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(testLogger())
	srv := NewServer(bus, "127.0.0.1:0", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.BoundAddr() != "" },
		2*time.Second, 10*time.Millisecond, "server did not bind")

	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("gateway did not shut down")
		}
		bus.Close()
	})
	return srv, bus
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var frame Frame
	require.NoError(t, wsjson.Read(ctx, ws, &frame))
	return frame
}

func TestBusEventsForwardedToClient(t *testing.T) {
	srv, bus := startServer(t)
	ws := dial(t, srv)

	// Connection registration races the publish; give the accept loop a beat.
	time.Sleep(50 * time.Millisecond)

	bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventSupervisorStatus,
		Timestamp: time.Now(),
		Payload:   json.RawMessage(`{"status":"running","port":8003}`),
	})

	frame := readFrame(t, ws)
	assert.Equal(t, FrameTypeEvent, frame.Type)

	var event domain.Event
	require.NoError(t, json.Unmarshal(frame.Payload, &event))
	assert.Equal(t, domain.EventSupervisorStatus, event.Type)
}

func TestRPCRoundTrip(t *testing.T) {
	srv, _ := startServer(t)
	srv.RegisterHandler("status.get", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"status":"stopped"}`), nil
	})

	ws := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, Frame{
		Type:   FrameTypeRequest,
		ID:     7,
		Method: "status.get",
	}))

	frame := readFrame(t, ws)
	assert.Equal(t, FrameTypeResponse, frame.Type)
	assert.Equal(t, uint64(7), frame.ID)
	assert.Empty(t, frame.Error)
	assert.JSONEq(t, `{"status":"stopped"}`, string(frame.Payload))
}

func TestRPCUnknownMethodReturnsError(t *testing.T) {
	srv, _ := startServer(t)
	ws := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, Frame{
		Type:   FrameTypeRequest,
		ID:     1,
		Method: "no.such.method",
	}))

	frame := readFrame(t, ws)
	assert.Equal(t, FrameTypeResponse, frame.Type)
	assert.Contains(t, frame.Error, "unknown method")
}

func TestRegisteredHTTPRoute(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	srv := NewServer(bus, "127.0.0.1:0", testLogger())
	srv.RegisterHTTPRoute("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"stopped"}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Start(ctx)

	require.Eventually(t, func() bool { return srv.BoundAddr() != "" },
		2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.BoundAddr() + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"stopped"}`, string(body))
}

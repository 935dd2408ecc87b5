package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type staticHistory []walk.Sample

func (h staticHistory) History() []walk.Sample { return h }

func serve(t *testing.T, hub *Hub, history HistorySource) string {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app, hub, history)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		hub.Close()
		_ = app.Shutdown()
	})
	return ln.Addr().String()
}

func readEvent(t *testing.T, r *bufio.Reader) (id, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if data != "" {
				return id, data
			}
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSSEStreamDeliversSamples(t *testing.T) {
	hub := newLocalHub(t)
	addr := serve(t, hub, nil)

	resp, err := http.Get("http://" + addr + "/stream-distance")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(sample(1))
	hub.Broadcast(sample(2))

	r := bufio.NewReader(resp.Body)
	for want := uint64(1); want <= 2; want++ {
		id, data := readEvent(t, r)
		var got walk.Sample
		require.NoError(t, json.Unmarshal([]byte(data), &got))
		require.Equal(t, want, got.Seq)
		require.Equal(t, "walk-1:"+strconv.FormatUint(want, 10), id)
		require.InDelta(t, 51.17, got.Coords.Latitude, 1e-9)
	}
}

func TestSSEReleasesSubscriberOnDisconnect(t *testing.T) {
	old := heartbeatInterval
	heartbeatInterval = 10 * time.Millisecond
	defer func() { heartbeatInterval = old }()

	hub := newLocalHub(t)
	addr := serve(t, hub, nil)

	stay, err := http.Get("http://" + addr + "/stream/geo")
	require.NoError(t, err)
	defer stay.Body.Close()
	leave, err := http.Get("http://" + addr + "/stream/geo")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
	leave.Body.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(sample(9))
	_, data := readEvent(t, bufio.NewReader(stay.Body))
	require.Contains(t, data, `"seq":9`)
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, newLocalHub(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/ws", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected non-200 for non-websocket request")
	}
}

func TestStreamHandlersWebsocketBroadcast(t *testing.T) {
	hub, err := NewHub(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	addr := serve(t, hub, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/ws", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(sample(5))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var got walk.Sample
	if err := json.Unmarshal(msg, &got); err != nil || got.Seq != 5 {
		t.Fatalf("unexpected message %s", msg)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestChartInfo(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, newLocalHub(t), staticHistory{sample(1), sample(2)})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/chart-info", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []walk.Sample
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[1].Seq)
}

func TestChartInfoWithoutHistory(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, newLocalHub(t), nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/chart-info", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	require.JSONEq(t, `[]`, string(body))
}

func TestChartInfoGPX(t *testing.T) {
	app := fiber.New()
	s := sample(1)
	s.Time = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	RegisterRoutes(app, newLocalHub(t), staticHistory{s})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/chart-info.gpx", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/gpx+xml", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "<trkpt")
	require.Contains(t, string(body), "51.17")
}

package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/chatrelay/internal/metrics"
)

const readWait = 2 * time.Second

func testConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		WriteTimeout:      time.Second,
		HandshakeTimeout:  time.Second,
		ReadLimit:         64 * 1024,
	}
}

// startRelay serves r behind Intercept, with a plain handler for non-upgrade requests.
func startRelay(t *testing.T, r *Relay) *httptest.Server {
	t.Helper()
	plain := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Welcome to the API"))
	})
	server := httptest.NewServer(r.Intercept(plain))
	t.Cleanup(func() {
		_ = r.Close()
		server.Close()
	})
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server)+"/", header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, r *Relay, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Len() == n }, readWait, 5*time.Millisecond,
		"expected %d registered connections", n)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, ok := frameFromMessage(mt, data)
	require.True(t, ok)
	return f
}

func TestRelay_FanOutIncludesSender(t *testing.T) {
	r := New(testConfig())
	server := startRelay(t, r)

	a := dial(t, server, nil)
	b := dial(t, server, nil)
	c := dial(t, server, nil)
	waitForConnections(t, r, 3)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("hello")))

	for _, conn := range []*websocket.Conn{a, b, c} {
		assert.Equal(t, TextFrame("hello"), readFrame(t, conn))
	}
}

func TestRelay_PreservesBinaryFraming(t *testing.T) {
	r := New(testConfig())
	server := startRelay(t, r)

	a := dial(t, server, nil)
	b := dial(t, server, nil)
	waitForConnections(t, r, 2)

	payload := []byte{0x01, 0x02, 0x03}
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, payload))

	got := readFrame(t, b)
	assert.True(t, got.Binary)
	assert.Equal(t, payload, got.Data)
}

func TestRelay_PreservesPerSenderOrder(t *testing.T) {
	r := New(testConfig())
	server := startRelay(t, r)

	a := dial(t, server, nil)
	b := dial(t, server, nil)
	waitForConnections(t, r, 2)

	want := []string{"one", "two", "three", "four"}
	for _, s := range want {
		require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(s)))
	}
	for _, s := range want {
		assert.Equal(t, s, string(readFrame(t, b).Data))
	}
}

func TestRelay_HeartbeatIsNotBroadcast(t *testing.T) {
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	r := New(testConfig(), WithMetrics(m))
	server := startRelay(t, r)

	a := dial(t, server, nil)
	b := dial(t, server, nil)
	waitForConnections(t, r, 2)

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte{HeartbeatByte}))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("after")))

	// The first frame B sees is the text, never the marker.
	assert.Equal(t, TextFrame("after"), readFrame(t, b))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HeartbeatsReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesReceived.WithLabelValues("text")))
}

func TestRelay_PrunesSilentClient(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	r := New(testConfig(), WithClock(clock), WithMetrics(m))
	server := startRelay(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	a := dial(t, server, nil)
	waitForConnections(t, r, 1)
	aConn := r.registry.Snapshot()[0]
	b := dial(t, server, nil)
	waitForConnections(t, r, 2)

	// First sweep: both probed and marked not alive. Only A answers.
	clock.Advance(5 * time.Second)
	probe := readFrame(t, a)
	require.True(t, probe.IsHeartbeat())
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, probe.Data))
	require.Eventually(t, aConn.Alive, readWait, 5*time.Millisecond)

	// Second sweep: B missed its probe and is terminated.
	clock.Advance(5 * time.Second)
	waitForConnections(t, r, 1)
	_, ok := r.registry.Get(aConn.ID)
	assert.True(t, ok, "answering client survives")

	require.NoError(t, b.SetReadDeadline(time.Now().Add(readWait)))
	for {
		if _, _, err := b.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectionsClosed.WithLabelValues(metrics.ReasonHeartbeatMiss)))

	// A still relays.
	require.True(t, readFrame(t, a).IsHeartbeat())
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("still here")))
	assert.Equal(t, TextFrame("still here"), readFrame(t, a))
}

func TestRelay_RejectsUnauthorized(t *testing.T) {
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	r := New(testConfig(), WithAuthorizer(RequireHeader("X-Token")), WithMetrics(m))
	server := startRelay(t, r)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server)+"/", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UpgradesRejected))

	ok := dial(t, server, http.Header{"X-Token": []string{"secret"}})
	require.NotNil(t, ok)
	waitForConnections(t, r, 1)
}

func TestRelay_ReferenceAuthorizerAdmitsBadAuthHeader(t *testing.T) {
	r := New(testConfig())
	server := startRelay(t, r)

	dial(t, server, http.Header{"BadAuth": []string{"1"}})
	waitForConnections(t, r, 1)
}

func TestRelay_InterceptPassesPlainRequests(t *testing.T) {
	r := New(testConfig())
	server := startRelay(t, r)

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelay_UpgradeOnAnyPath(t *testing.T) {
	r := New(testConfig())
	server := startRelay(t, r)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server)+"/api/v1/anything", nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForConnections(t, r, 1)
}

func TestRelay_PeerCloseUnregisters(t *testing.T) {
	r := New(testConfig())
	server := startRelay(t, r)

	a := dial(t, server, nil)
	waitForConnections(t, r, 1)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, a.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	waitForConnections(t, r, 0)
}

func TestRelay_CloseShutsEverythingDown(t *testing.T) {
	r := New(testConfig())
	server := startRelay(t, r)
	require.NoError(t, r.Start(context.Background()))

	a := dial(t, server, nil)
	b := dial(t, server, nil)
	waitForConnections(t, r, 2)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Len())

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server)+"/", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.ErrorIs(t, r.Start(context.Background()), ErrRelayClosed)
}

func TestRelay_StampsConnectedAtFromClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	r := New(testConfig(), WithClock(clock))
	require.NoError(t, r.Start(context.Background()))
	server := startRelay(t, r)

	dial(t, server, nil)
	waitForConnections(t, r, 1)

	conns := r.registry.Snapshot()
	require.Len(t, conns, 1)
	assert.True(t, start.Equal(conns[0].ConnectedAt), "ConnectedAt = %v, want %v", conns[0].ConnectedAt, start)
}

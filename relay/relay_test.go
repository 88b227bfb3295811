package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hear.town/audio"
)

type harness struct {
	relay  *Relay
	server *httptest.Server

	mu       sync.Mutex
	ingested [][]float32
	outputs  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}
	h.relay = New(
		func(samples []float32) {
			h.mu.Lock()
			h.ingested = append(h.ingested, samples)
			h.mu.Unlock()
		},
		func(message string) {
			h.mu.Lock()
			h.outputs = append(h.outputs, message)
			h.mu.Unlock()
		},
		log.New(io.Discard),
	)
	mux := chi.NewRouter()
	h.relay.Routes(mux)
	h.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		h.relay.Close()
		h.server.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/pubsub?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) waitPeers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.relay.PeerCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peer count never reached %d (have %d)", n, h.relay.PeerCount())
}

func TestBinaryFrameIngestedNotBroadcast(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t, "laptop")
	receiver := h.dial(t, "phone")
	h.waitPeers(t, 2)

	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 0.25
	}
	require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, audio.EncodeFloat32LE(samples)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		n := len(h.ingested)
		h.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.mu.Lock()
	require.Len(t, h.ingested, 1)
	assert.Len(t, h.ingested[0], 1000)
	assert.InDelta(t, 0.25, float64(h.ingested[0][0]), 1e-6)
	h.mu.Unlock()

	// The receiver must not be handed the audio frame.
	receiver.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := receiver.ReadMessage()
	assert.Error(t, err)
}

func TestTextBroadcastExcludesSender(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t, "a")
	receiver := h.dial(t, "b")
	h.waitPeers(t, 2)

	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("hello relay")))

	receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := receiver.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, "hello relay", string(data))

	// The sender never hears its own message back.
	sender.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err = sender.ReadMessage()
	assert.Error(t, err)

	h.mu.Lock()
	assert.Equal(t, []string{"hello relay"}, h.outputs)
	h.mu.Unlock()
}

func TestDuplicatePeerRejected(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t, "same")
	h.waitPeers(t, 1)

	second := h.dial(t, "same")
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	require.Error(t, err)

	// The original connection is untouched.
	assert.Equal(t, 1, h.relay.PeerCount())
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("still here")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		n := len(h.outputs)
		h.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.mu.Lock()
	assert.Equal(t, []string{"still here"}, h.outputs)
	h.mu.Unlock()
}

func TestPublishReachesAllPeers(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t, "a")
	b := h.dial(t, "b")
	h.waitPeers(t, 2)

	h.relay.Publish("state: recording")

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "state: recording", string(data))
	}
}

func TestMalformedBinaryFrameDropped(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t, "x")
	h.waitPeers(t, 1)

	require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	// Frame length not divisible by four is discarded without killing the
	// connection; a well-formed frame afterwards still lands.
	require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, audio.EncodeFloat32LE([]float32{0.5})))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		n := len(h.ingested)
		h.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.mu.Lock()
	require.Len(t, h.ingested, 1)
	assert.Len(t, h.ingested[0], 1)
	h.mu.Unlock()
}

func TestSlowPeerOverflowDoesNotStallOthers(t *testing.T) {
	// Exercises the fan-out path directly: a peer whose send queue takes
	// nothing loses messages, everyone else still receives theirs.
	r := &Relay{logger: log.New(io.Discard), peers: make(map[string]*peer)}

	slow := &peer{id: "slow", send: make(chan outbound)}
	fast := &peer{id: "fast", send: make(chan outbound, 4)}
	require.NoError(t, r.register(slow))
	require.NoError(t, r.register(fast))

	for i := 0; i < 3; i++ {
		r.broadcast("sender", []byte("transcript line"))
	}

	assert.Len(t, fast.send, 3)
	assert.Len(t, slow.send, 0, "overflowing peer drops, never blocks")

	msg := <-fast.send
	assert.Equal(t, websocket.TextMessage, msg.messageType)
	assert.Equal(t, "transcript line", string(msg.data))
}

func TestMissingPeerIDRejected(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.server.URL + "/pubsub")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

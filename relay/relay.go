// Package relay lets remote peers feed audio into the transcription pipeline
// and exchange text messages over a persistent WebSocket connection.
//
// Binary frames carry little-endian float32 samples and go straight to the
// ingest path; they are never echoed to other peers. Text frames are
// broadcast to every other peer and delivered to the output sink. A
// dedicated pump goroutine fans process-wide inbound text out to per-peer
// send queues so a slow peer can never block frame ingestion.
package relay

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"hear.town/audio"
)

// ErrDuplicatePeer reports a registration attempt with an identifier that is
// already connected.
var ErrDuplicatePeer = errors.New("peer id already registered")

const (
	sendQueueSize = 64
	writeDeadline = 10 * time.Second
)

type outbound struct {
	messageType int
	data        []byte
}

type peer struct {
	id   string
	conn *websocket.Conn
	send chan outbound
}

// Relay is the multi-peer hub. Construct one with New and mount it on a
// router; there is no package-level instance.
type Relay struct {
	logger   *log.Logger
	ingest   func([]float32)
	output   func(string)
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*peer

	input     chan string
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a relay. ingest receives decoded audio samples; output
// receives every text message a peer sends.
func New(ingest func([]float32), output func(string), logger *log.Logger) *Relay {
	if ingest == nil {
		ingest = func([]float32) {}
	}
	if output == nil {
		output = func(string) {}
	}
	r := &Relay{
		logger: logger,
		ingest: ingest,
		output: output,
		upgrader: websocket.Upgrader{
			// Browser peers connect from arbitrary local origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[string]*peer),
		input: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go r.pump()
	return r
}

// Routes mounts the relay endpoint on a chi router.
func (r *Relay) Routes(mux chi.Router) {
	mux.Get("/pubsub", r.handleConnection)
}

// Publish queues a process-wide text message for delivery to every
// registered peer.
func (r *Relay) Publish(message string) {
	select {
	case r.input <- message:
	case <-r.done:
	}
}

// Close shuts down the broadcast pump and disconnects all peers.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		for _, p := range r.peers {
			p.conn.Close()
		}
		r.mu.Unlock()
	})
}

// PeerCount reports the number of registered peers.
func (r *Relay) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// pump fans process-wide inbound text out to all peers' send queues.
func (r *Relay) pump() {
	for {
		select {
		case <-r.done:
			return
		case message := <-r.input:
			r.mu.Lock()
			for _, p := range r.peers {
				p.trySend(websocket.TextMessage, []byte(message), r.logger)
			}
			r.mu.Unlock()
		}
	}
}

func (p *peer) trySend(messageType int, data []byte, logger *log.Logger) {
	select {
	case p.send <- outbound{messageType: messageType, data: data}:
	default:
		// Queue overflow: the message is dropped for this peer rather
		// than stalling everyone else.
		logger.Warn("peer send queue full", "peer", p.id)
	}
}

func (r *Relay) handleConnection(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing peer id", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade", "error", err)
		return
	}

	p := &peer{
		id:   id,
		conn: conn,
		send: make(chan outbound, sendQueueSize),
	}

	if err := r.register(p); err != nil {
		r.logger.Warn("rejecting connection", "peer", id, "error", err)
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeDeadline),
		)
		conn.Close()
		return
	}
	r.logger.Info("peer connected", "peer", id)

	go p.writer(r.done)
	r.readLoop(p)

	r.unregister(p)
	r.logger.Info("peer disconnected", "peer", id)
}

func (r *Relay) register(p *peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[p.id]; exists {
		return ErrDuplicatePeer
	}
	r.peers[p.id] = p
	return nil
}

// unregister removes a peer exactly once; calling it again is harmless.
func (r *Relay) unregister(p *peer) {
	r.mu.Lock()
	if current, ok := r.peers[p.id]; ok && current == p {
		delete(r.peers, p.id)
		close(p.send)
	}
	r.mu.Unlock()
	p.conn.Close()
}

func (r *Relay) readLoop(p *peer) {
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if len(data)%4 != 0 {
				r.logger.Warn("dropping malformed audio frame",
					"peer", p.id, "bytes", len(data))
				continue
			}
			r.ingest(audio.DecodeFloat32LE(data))

		case websocket.TextMessage:
			message := string(data)
			r.output(message)
			r.broadcast(p.id, data)
		}
	}
}

// broadcast delivers a text frame to every peer except the sender.
func (r *Relay) broadcast(senderID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.peers {
		if id == senderID {
			continue
		}
		p.trySend(websocket.TextMessage, data, r.logger)
	}
}

// writer drains one peer's send queue onto its socket.
func (p *peer) writer(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-p.send:
			if !ok {
				return
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := p.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				return
			}
		}
	}
}

package transport

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mnohosten/collage-2pc/pkg/txn"
	"github.com/mnohosten/collage-2pc/pkg/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// peer wraps one websocket connection with a single writer goroutine, since
// gorilla/websocket connections are not safe for concurrent writes.
type peer struct {
	conn    *websocket.Conn
	outbox  chan wire.Message
	closeCh chan struct{}
}

func newPeer(conn *websocket.Conn) *peer {
	p := &peer{conn: conn, outbox: make(chan wire.Message, 32), closeCh: make(chan struct{})}
	go p.writePump()
	return p
}

func (p *peer) writePump() {
	for {
		select {
		case msg, ok := <-p.outbox:
			if !ok {
				return
			}
			data, err := wire.Encode(msg)
			if err != nil {
				continue
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-p.closeCh:
			return
		}
	}
}

func (p *peer) send(msg wire.Message) error {
	select {
	case p.outbox <- msg:
		return nil
	default:
		return fmt.Errorf("transport: outbox full for peer, dropping message")
	}
}

func (p *peer) close() {
	select {
	case <-p.closeCh:
	default:
		close(p.closeCh)
	}
	_ = p.conn.Close()
}

// WSBus is a Bus backed by gorilla/websocket connections, grounded on the
// connection-map shape of the teacher's change-stream websocket handler.
type WSBus struct {
	mu     sync.RWMutex
	peers  map[txn.Address]*peer
	inbox  chan Envelope
	logger *log.Logger
}

func newWSBus(logger *log.Logger) *WSBus {
	if logger == nil {
		logger = log.Default()
	}
	return &WSBus{
		peers:  make(map[txn.Address]*peer),
		inbox:  make(chan Envelope, 256),
		logger: logger,
	}
}

func (b *WSBus) Inbox() <-chan Envelope { return b.inbox }

func (b *WSBus) Send(addr txn.Address, msg wire.Message) error {
	b.mu.RLock()
	p, ok := b.peers[addr]
	b.mu.RUnlock()
	if !ok {
		// Best-effort: no connection to addr right now. Swallowed per §7;
		// the retry engine is what makes this survive.
		b.logger.Printf("transport: no connection to %s, dropping %s for %s", addr, msg.Tag, msg.TxnID)
		return nil
	}
	if err := p.send(msg); err != nil {
		b.logger.Printf("transport: send to %s failed: %v", addr, err)
	}
	return nil
}

func (b *WSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.peers {
		p.close()
	}
	close(b.inbox)
	return nil
}

func (b *WSBus) addPeer(addr txn.Address, conn *websocket.Conn) *peer {
	p := newPeer(conn)
	b.mu.Lock()
	if old, exists := b.peers[addr]; exists {
		old.close()
	}
	b.peers[addr] = p
	b.mu.Unlock()
	return p
}

func (b *WSBus) removePeer(addr txn.Address, p *peer) {
	b.mu.Lock()
	if b.peers[addr] == p {
		delete(b.peers, addr)
	}
	b.mu.Unlock()
}

func (b *WSBus) readLoop(addr txn.Address, p *peer) {
	defer func() {
		p.close()
		b.removePeer(addr, p)
	}()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			b.logger.Printf("transport: dropping unreadable message from %s: %v", addr, err)
			continue
		}
		select {
		case b.inbox <- Envelope{From: addr, Msg: msg}:
		default:
			b.logger.Printf("transport: inbox full, dropping message from %s", addr)
		}
	}
}

// NewCoordinatorBus returns a WSBus plus a chi route that participants dial
// into at GET /ws/{participantID} to register their persistent connection.
func NewCoordinatorBus(logger *log.Logger) (*WSBus, func(chi.Router)) {
	b := newWSBus(logger)
	mount := func(r chi.Router) {
		r.Get("/ws/{participantID}", func(w http.ResponseWriter, r *http.Request) {
			addr := txn.Address(chi.URLParam(r, "participantID"))
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				b.logger.Printf("transport: upgrade from %s failed: %v", addr, err)
				return
			}
			p := b.addPeer(addr, conn)
			b.logger.Printf("transport: participant %s connected", addr)
			b.readLoop(addr, p)
		})
	}
	return b, mount
}

// DialParticipantBus connects out to a coordinator's /ws/{selfAddr} endpoint
// and returns a WSBus whose single peer is keyed by coordinatorAddr, so
// Send(coordinatorAddr, msg) reaches the coordinator.
func DialParticipantBus(coordinatorURL string, selfAddr, coordinatorAddr txn.Address, logger *log.Logger) (*WSBus, error) {
	b := newWSBus(logger)

	u, err := url.Parse(coordinatorURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse coordinator url: %w", err)
	}
	u.Path = fmt.Sprintf("/ws/%s", selfAddr)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial coordinator at %s: %w", u.String(), err)
	}

	p := b.addPeer(coordinatorAddr, conn)
	go b.readLoop(coordinatorAddr, p)
	return b, nil
}

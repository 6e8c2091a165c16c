package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger-service/internal/bus"
	"messenger-service/internal/delivery"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
)

// State is a session's position in the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateRejected
	StateAuthorized
	StateJoined
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateRejected:
		return "rejected"
	case StateAuthorized:
		return "authorized"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session owns exactly one websocket connection for one authenticated
// user bound to one conversation. It subscribes to broadcast groups,
// forwards group events verbatim to its transport, and walks the
// connection state machine from Joined to Closed. Collaborators are
// injected capabilities; sessions share no state with each other except
// through the bus and the presence store.
type Session struct {
	id         string
	userID     int
	conv       models.Conversation // cached kind/visibility/owner for the joined group
	conn       *websocket.Conn
	broker     bus.Bus
	presence   presence.Store
	deliverer  *delivery.Deliverer
	dispatcher *Dispatcher

	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	state  State
	groups map[string]struct{}

	closeOnce sync.Once
}

func newSession(
	userID int,
	conv models.Conversation,
	conn *websocket.Conn,
	broker bus.Bus,
	presenceStore presence.Store,
	deliverer *delivery.Deliverer,
	dispatcher *Dispatcher,
) *Session {
	return &Session{
		id:         newSessionID(),
		userID:     userID,
		conv:       conv,
		conn:       conn,
		broker:     broker,
		presence:   presenceStore,
		deliverer:  deliverer,
		dispatcher: dispatcher,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		state:      StateAuthorized,
		groups:     make(map[string]struct{}),
	}
}

// ID implements bus.Subscriber.
func (s *Session) ID() string {
	return s.id
}

// Deliver implements bus.Subscriber: it queues a broadcast payload for the
// write pump without blocking. A session too slow to drain its buffer is
// closed rather than allowed to stall the fan-out.
func (s *Session) Deliver(payload []byte) {
	select {
	case s.send <- payload:
	case <-s.done:
	default:
		log.Printf("session send buffer full, closing session=%s user=%d", s.id, s.userID)
		s.closeOnce.Do(func() { close(s.done) })
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

// start performs the Authorized -> Joined -> Active transitions: bus
// subscription, presence registration, the participants broadcast, and
// both pumps.
func (s *Session) start(ctx context.Context) {
	group := bus.GroupName(s.conv.Kind, s.conv.ID)
	s.broker.Join(group, s)
	s.mu.Lock()
	s.groups[group] = struct{}{}
	s.mu.Unlock()

	if err := s.presence.SessionConnected(ctx, s.userID); err != nil {
		log.Printf("presence connect failed user=%d: %v", s.userID, err)
	}
	s.transition(StateJoined)

	observability.IncWSActive(string(s.conv.Kind))
	observability.IncWSEvent(string(s.conv.Kind), "connect")

	if err := s.deliverer.BroadcastParticipants(ctx, s.conv); err != nil {
		log.Printf("participants broadcast failed conversation=%d: %v", s.conv.ID, err)
	}

	s.transition(StateActive)
	go s.writePump()
	go s.readPump(ctx)
}

// readPump consumes inbound frames until the transport closes, a protocol
// violation occurs, or the dispatcher reports the session fatally
// unauthorized. It owns the Closing transition.
func (s *Session) readPump(ctx context.Context) {
	defer s.shutdown(ctx)

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(string(s.conv.Kind), "read_error")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Unparsable framing is fatal to this connection only.
			s.sendError("", codeValidation, "unparsable frame")
			return
		}

		if err := s.dispatcher.Dispatch(ctx, s, frame); err != nil {
			log.Printf("session closing user=%d conversation=%d: %v", s.userID, s.conv.ID, err)
			return
		}
	}
}

// writePump drains the send queue to the transport and keeps the
// connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// shutdown walks Closing -> Closed: leave every joined group, update
// presence (offline only when this was the user's last session), and
// re-broadcast participants to each group left.
func (s *Session) shutdown(ctx context.Context) {
	s.transition(StateClosing)
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	groups := make([]string, 0, len(s.groups))
	for group := range s.groups {
		groups = append(groups, group)
	}
	s.groups = make(map[string]struct{})
	s.mu.Unlock()

	for _, group := range groups {
		s.broker.Leave(group, s)
	}

	if _, err := s.presence.SessionDisconnected(ctx, s.userID); err != nil {
		log.Printf("presence disconnect failed user=%d: %v", s.userID, err)
	}

	if len(groups) > 0 {
		if err := s.deliverer.BroadcastParticipants(ctx, s.conv); err != nil {
			log.Printf("participants broadcast failed conversation=%d: %v", s.conv.ID, err)
		}
	}

	observability.DecWSActive(string(s.conv.Kind))
	observability.IncWSEvent(string(s.conv.Kind), "disconnect")

	s.conn.Close()
	s.transition(StateClosed)
}

// sendEvent queues a point-to-point event for this session only.
func (s *Session) sendEvent(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal failed: %v", err)
		return
	}
	s.Deliver(payload)
}

// sendError queues a structured error event for this session only; errors
// are never broadcast.
func (s *Session) sendError(requestID, code, detail string) {
	s.sendEvent(models.Event{
		Action:    models.EventError,
		RequestID: requestID,
		Data:      map[string]string{"code": code, "detail": detail},
	})
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

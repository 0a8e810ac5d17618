package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"callcoin-platform/internal/accounts"
	"callcoin-platform/internal/apperr"
	"callcoin-platform/internal/auth"
	"callcoin-platform/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type TokenVerifier interface {
	Verify(token string, expected auth.TokenType, now time.Time) (auth.Claims, error)
}

// ChatRooms is the chat surface reachable over the socket.
type ChatRooms interface {
	Authorize(ctx context.Context, roomID, accountID string) error
	Send(ctx context.Context, senderID, roomID, body, clientMessageID string) (chat.Message, error)
}

type Presence interface {
	SetOnline(ctx context.Context, accountID string, online bool) error
}

type Server struct {
	hub      *Hub
	pub      *Publisher
	sessions SessionRegistry
	tokens   TokenVerifier
	chat     ChatRooms
	presence Presence
	log      *slog.Logger
	clock    func() time.Time
	upgrader websocket.Upgrader
}

type ServerDeps struct {
	Hub       *Hub
	Publisher *Publisher
	Sessions  SessionRegistry
	Tokens    TokenVerifier
	Chat      ChatRooms
	Presence  Presence
	Log       *slog.Logger
}

func NewServer(d ServerDeps) *Server {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		hub:      d.Hub,
		pub:      d.Publisher,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		chat:     d.Chat,
		presence: d.Presence,
		log:      log,
		clock:    time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler authenticates once, upgrades, and serves the connection until it closes.
func (s *Server) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := s.tokens.Verify(token, auth.TokenTypeAccess, s.clock())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.log.Debug("websocket upgrade failed", "account_id", claims.UserID, "err", err)
			return
		}

		ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
		defer cancel()
		s.serve(ctx, newClient(uuid.NewString(), conn, claims.UserID, claims.Role))
	}
}

func (s *Server) serve(ctx context.Context, c *client) {
	log := s.log.With("conn_id", c.id, "account_id", c.accountID)

	if err := s.sessions.Put(ctx, Session{ConnID: c.id, AccountID: c.accountID, Role: c.role, ConnectedAt: s.clock().UTC()}); err != nil {
		log.Error("session registry unavailable", "err", err)
		c.close()
		return
	}
	s.hub.join(UserRoom(c.accountID), c)
	s.setOnline(ctx, log, c.accountID, true)
	log.Info("realtime connected")

	go c.writePump()
	s.readPump(ctx, c)

	s.hub.leaveAll(c)
	remaining, err := s.sessions.Remove(ctx, c.id)
	if err != nil {
		log.Warn("session removal failed", "err", err)
	}
	if err == nil && remaining == 0 {
		s.setOnline(ctx, log, c.accountID, false)
	}
	log.Info("realtime disconnected")
}

func (s *Server) setOnline(ctx context.Context, log *slog.Logger, accountID string, online bool) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetOnline(ctx, accountID, online); err != nil {
		log.Warn("presence update failed", "online", online, "err", err)
	}
}

func (s *Server) readPump(ctx context.Context, c *client) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("realtime read failed", "conn_id", c.id, "err", err)
			}
			return
		}
		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			s.reply(c, EventError, Ack{Error: "malformed frame", Code: string(apperr.KindValidation)}, "")
			continue
		}
		s.dispatch(ctx, c, in)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, in inbound) {
	switch in.Type {
	case EventJoinRoom:
		var req roomRequest
		if err := json.Unmarshal(in.Data, &req); err != nil || req.RoomID == "" {
			s.ack(c, in.AckID, Ack{Error: "roomId required", Code: string(apperr.KindValidation)})
			return
		}
		if err := s.authorizeJoin(ctx, c, req.RoomID); err != nil {
			s.ack(c, in.AckID, failure(err))
			return
		}
		s.hub.join(req.RoomID, c)
		s.ack(c, in.AckID, Ack{Success: true})

	case EventLeaveRoom:
		var req roomRequest
		if err := json.Unmarshal(in.Data, &req); err != nil || req.RoomID == "" {
			s.ack(c, in.AckID, Ack{Error: "roomId required", Code: string(apperr.KindValidation)})
			return
		}
		if req.RoomID != UserRoom(c.accountID) {
			s.hub.leave(req.RoomID, c)
		}
		s.ack(c, in.AckID, Ack{Success: true})

	case EventSendMessage:
		var req sendRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			s.ack(c, in.AckID, Ack{Error: "invalid message", Code: string(apperr.KindValidation)})
			return
		}
		msg, err := s.chat.Send(ctx, c.accountID, req.RoomID, req.Body, req.ClientMessageID)
		if err != nil {
			s.ack(c, in.AckID, failure(err))
			return
		}
		s.ack(c, in.AckID, Ack{Success: true, MessageID: msg.ID})

	case EventTyping:
		var req typingRequest
		if err := json.Unmarshal(in.Data, &req); err != nil || req.RoomID == "" {
			return
		}
		if !s.hub.inRoom(req.RoomID, c) {
			return
		}
		evt := TypingEvent{RoomID: req.RoomID, UserID: c.accountID, IsTyping: req.IsTyping}
		if err := s.pub.Publish(ctx, req.RoomID, EventTyping, evt); err != nil {
			s.log.Debug("typing broadcast failed", "room_id", req.RoomID, "err", err)
		}

	default:
		s.ack(c, in.AckID, Ack{Error: "unknown event", Code: string(apperr.KindValidation)})
	}
}

func (s *Server) authorizeJoin(ctx context.Context, c *client, room string) error {
	switch {
	case room == accounts.AvailabilityRoom:
		return nil
	case isUserRoom(room):
		if room == UserRoom(c.accountID) {
			return nil
		}
		return chat.ErrNotParticipant
	default:
		return s.chat.Authorize(ctx, room, c.accountID)
	}
}

func failure(err error) Ack {
	return Ack{Error: apperr.Message(err), Code: string(apperr.KindOf(err))}
}

func (s *Server) ack(c *client, ackID string, a Ack) {
	s.reply(c, EventAck, a, ackID)
}

func (s *Server) reply(c *client, eventType string, data any, ackID string) {
	payload, err := encode(eventType, data, ackID)
	if err != nil {
		s.log.Error("encode reply", "err", err)
		return
	}
	c.enqueue(payload)
}

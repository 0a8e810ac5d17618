// Package chat bills and delivers messages between users and responders.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"callcoin-platform/internal/accounts"
	"callcoin-platform/internal/ids"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/rbac"
	"callcoin-platform/internal/wallet"

	"github.com/google/uuid"
)

const (
	EventNewMessage         = "new_message"
	EventCoinBalanceUpdated = "coin_balance_updated"
)

type AccountReader interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
}

type Biller interface {
	DeductForChat(ctx context.Context, userID, responderID, messageID string, amount int64) (wallet.Charge, error)
}

type RateResolver interface {
	Current(ctx context.Context) (pricing.CoinConfig, error)
}

// Broadcaster publishes to realtime rooms and to single accounts.
type Broadcaster interface {
	Publish(ctx context.Context, room, eventType string, data any) error
	Notify(ctx context.Context, accountID, eventType string, data any) error
}

type BalanceUpdate struct {
	MessageID     string `json:"messageId"`
	Balance       int64  `json:"balance"`
	CoinsDeducted int64  `json:"coinsDeducted"`
}

type Service struct {
	store    Store
	accounts AccountReader
	biller   Biller
	rates    RateResolver
	bus      Broadcaster
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(store Store, accts AccountReader, biller Biller, rates RateResolver, bus Broadcaster, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, accounts: accts, biller: biller, rates: rates, bus: bus, log: log, clock: time.Now}
}

// OpenRoom returns the room between userID and responderID, creating it on first use.
func (s *Service) OpenRoom(ctx context.Context, userID, responderID string) (Room, error) {
	if userID == "" || responderID == "" || userID == responderID {
		return Room{}, ErrInvalidRoom
	}
	responder, err := s.accounts.Get(ctx, responderID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, err
	}
	if responder.IsDeleted() || responder.Role != rbac.RoleResponder {
		return Room{}, ErrInvalidRoom
	}
	return s.store.GetOrCreateRoom(ctx, Room{
		ID:          ids.New(ids.PrefixChatRoom),
		UserID:      userID,
		ResponderID: responderID,
		CreatedAt:   s.clock().UTC(),
	})
}

// Authorize reports whether accountID may join roomID's realtime channel.
func (s *Service) Authorize(ctx context.Context, roomID, accountID string) error {
	r, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.IsParticipant(accountID) {
		return ErrNotParticipant
	}
	return nil
}

// Send bills and stores a message, then broadcasts it.
//
// The room's user pays one message rate split with the responder; responder
// messages are free. The charge is committed before the message is stored or
// delivered, so a message the user cannot pay for is never persisted.
//
// clientMessageID, when set, must be a UUID. The message id is derived from it
// and the sender, so a sender's retries are idempotent end to end and two
// senders can never collide on one id.
func (s *Service) Send(ctx context.Context, senderID, roomID, body, clientMessageID string) (Message, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return Message{}, err
	}
	if !room.IsParticipant(senderID) {
		return Message{}, ErrNotParticipant
	}

	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > MaxBodyRunes {
		return Message{}, ErrInvalidMessage
	}
	msgID := ids.New(ids.PrefixMessage)
	if clientMessageID != "" {
		msgID, err = MessageIDFor(senderID, clientMessageID)
		if err != nil {
			return Message{}, err
		}
	}

	cfg, err := s.rates.Current(ctx)
	if err != nil {
		return Message{}, err
	}
	rate, err := cfg.RateFor(pricing.ChannelChat)
	if err != nil {
		if errors.Is(err, pricing.ErrChannelNotBillable) {
			return Message{}, ErrChatDisabled
		}
		return Message{}, err
	}
	responder, err := s.accounts.Get(ctx, room.ResponderID)
	if err != nil {
		return Message{}, err
	}
	if responder.IsDeleted() || !responder.ChatEnabled {
		return Message{}, ErrChatDisabled
	}

	m := Message{
		ID:          msgID,
		RoomID:      room.ID,
		SenderID:    senderID,
		RecipientID: room.ResponderID,
		Body:        body,
		CreatedAt:   s.clock().UTC(),
	}
	if senderID == room.ResponderID {
		m.RecipientID = room.UserID
	}

	var charge *wallet.Charge
	if senderID == room.UserID && rate > 0 {
		ch, err := s.biller.DeductForChat(ctx, room.UserID, room.ResponderID, m.ID, rate)
		if err != nil {
			return Message{}, err
		}
		charge = &ch
		m.CoinsCharged = ch.Amount()
	}

	stored, replayed, err := s.store.InsertMessage(ctx, m)
	if err != nil {
		return Message{}, err
	}
	if replayed {
		if stored.SenderID != senderID || stored.RoomID != room.ID {
			return Message{}, ErrMessageConflict
		}
		return stored, nil
	}

	s.publish(ctx, room.ID, EventNewMessage, stored)
	if charge != nil {
		s.notify(ctx, senderID, EventCoinBalanceUpdated, BalanceUpdate{
			MessageID:     stored.ID,
			Balance:       charge.Balance(),
			CoinsDeducted: charge.Amount(),
		})
	}
	return stored, nil
}

// MessageIDFor returns the stored message id for a sender's client message id.
func MessageIDFor(senderID, clientMessageID string) (string, error) {
	ns, err := uuid.Parse(clientMessageID)
	if err != nil {
		return "", ErrInvalidMessage
	}
	return uuid.NewSHA1(ns, []byte(senderID)).String(), nil
}

// ListMessages pages a room's history newest first. A zero before means now.
func (s *Service) ListMessages(ctx context.Context, roomID, requesterID string, before time.Time, limit int) ([]Message, error) {
	if err := s.Authorize(ctx, roomID, requesterID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if before.IsZero() {
		before = s.clock().UTC().Add(time.Second)
	}
	return s.store.ListMessages(ctx, roomID, before, limit)
}

func (s *Service) Rooms(ctx context.Context, accountID string) ([]Room, error) {
	return s.store.RoomsFor(ctx, accountID, 100)
}

func (s *Service) publish(ctx context.Context, room, eventType string, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, room, eventType, data); err != nil {
		s.log.Warn("message broadcast failed", "room_id", room, "err", err)
	}
}

func (s *Service) notify(ctx context.Context, accountID, eventType string, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Notify(ctx, accountID, eventType, data); err != nil {
		s.log.Debug("notify failed", "account_id", accountID, "err", err)
	}
}

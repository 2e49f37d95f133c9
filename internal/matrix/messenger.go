// ABOUTME: Matrix implementation of the notifier's Messenger interface
// ABOUTME: Replies in rooms, finds or creates direct rooms, and drives typing notices

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/vpsbot/internal/notify"
)

// typingTimeout is how long one typing notice lasts on the server.
const typingTimeout = 30 * time.Second

// networkTimeout bounds each Matrix API call.
const networkTimeout = 15 * time.Second

// directAccountData is the account data event listing direct rooms per user.
const directAccountData = "m.direct"

// Messenger sends chat messages for the reporter.
type Messenger struct {
	api    API
	logger *slog.Logger

	mu      sync.Mutex
	dmRooms map[id.UserID]id.RoomID
}

// NewMessenger creates a Messenger on top of api.
func NewMessenger(api API, logger *slog.Logger) *Messenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Messenger{
		api:     api,
		logger:  logger.With("component", "matrix"),
		dmRooms: make(map[id.UserID]id.RoomID),
	}
}

// Reply implements notify.Messenger.
func (m *Messenger) Reply(ctx context.Context, origin notify.Origin, text string) error {
	return m.send(ctx, id.RoomID(origin.Room), textContent(text, id.EventID(origin.EventID)))
}

// DirectMessage implements notify.Messenger.
func (m *Messenger) DirectMessage(ctx context.Context, to notify.Requester, text string) error {
	room, err := m.directRoom(ctx, id.UserID(to.ID))
	if err != nil {
		return err
	}
	return m.send(ctx, room, textContent(text, ""))
}

// Typing shows or clears the typing notice in the origin room. Failures are only
// logged; the indicator is cosmetic.
func (m *Messenger) Typing(ctx context.Context, origin notify.Origin, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), networkTimeout)
	defer cancel()
	if _, err := m.api.UserTyping(ctx, id.RoomID(origin.Room), typing, timeout); err != nil {
		m.logger.Debug("failed to set typing indicator", "room", origin.Room, "error", err)
	}
}

func (m *Messenger) send(ctx context.Context, room id.RoomID, content *event.MessageEventContent) error {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := m.api.SendMessageEvent(ctx, room, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending to %s: %w", room, err)
	}
	return nil
}

// directRoom returns the room used for private messages to user. It prefers a
// room recorded in m.direct and otherwise creates one and records it.
func (m *Messenger) directRoom(ctx context.Context, user id.UserID) (id.RoomID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.dmRooms[user]; ok {
		return room, nil
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	// listed is false when m.direct could not be read. The new room is then not
	// written back, since that would replace every other user's mapping.
	listed := true
	direct := map[id.UserID][]id.RoomID{}
	if err := m.api.GetAccountData(ctx, directAccountData, &direct); err != nil {
		direct = map[id.UserID][]id.RoomID{}
		if errors.Is(err, mautrix.MNotFound) {
			m.logger.Debug("no direct room list yet")
		} else {
			listed = false
			m.logger.Warn("failed to read direct room list", "error", err)
		}
	}
	if rooms := direct[user]; len(rooms) > 0 {
		m.dmRooms[user] = rooms[0]
		return rooms[0], nil
	}

	resp, err := m.api.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		IsDirect: true,
		Invite:   []id.UserID{user},
	})
	if err != nil {
		return "", fmt.Errorf("creating direct room for %s: %w", user, err)
	}
	m.dmRooms[user] = resp.RoomID
	m.logger.Info("created direct room", "user", user.String(), "room", resp.RoomID.String())

	if !listed {
		return resp.RoomID, nil
	}
	direct[user] = append(direct[user], resp.RoomID)
	if err := m.api.SetAccountData(ctx, directAccountData, direct); err != nil {
		m.logger.Warn("failed to record direct room", "user", user.String(), "error", err)
	}
	return resp.RoomID, nil
}

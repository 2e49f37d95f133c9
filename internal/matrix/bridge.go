// ABOUTME: Matrix bridge core: sync loop, invite handling, and command dispatch
// ABOUTME: Provisioning commands are handed to the coordinator off the sync goroutine

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/vpsbot/internal/config"
	"github.com/2389/vpsbot/internal/coordinator"
	"github.com/2389/vpsbot/internal/dedupe"
	"github.com/2389/vpsbot/internal/notify"
)

const (
	dedupeTTL  = time.Hour
	dedupeSize = 4096
	msgPong    = "Pong!"
)

// Provisioner runs create-vps invocations. *coordinator.Coordinator implements it.
type Provisioner interface {
	Handle(ctx context.Context, inv coordinator.Invocation) coordinator.Outcome
}

// CommandRecorder counts inbound commands. The metrics package implements it.
type CommandRecorder interface {
	CommandReceived(command string)
	DuplicateEvent()
}

// Bridge routes chat events to command handlers.
type Bridge struct {
	cfg         config.MatrixConfig
	userID      id.UserID
	api         API
	messenger   *Messenger
	roles       *RoleResolver
	provisioner Provisioner
	events      *dedupe.Events
	recorder    CommandRecorder
	logger      *slog.Logger

	history      RequestHistory
	historyRoles []string

	// ctx parents command goroutines; it outlives sync cancellation so that a
	// running provisioning request can finish and report.
	ctx context.Context
	wg  sync.WaitGroup
}

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

// WithCommandRecorder attaches a command counter.
func WithCommandRecorder(r CommandRecorder) BridgeOption {
	return func(b *Bridge) { b.recorder = r }
}

// NewBridge creates a Bridge for the bot account userID.
func NewBridge(cfg config.MatrixConfig, userID id.UserID, api API, messenger *Messenger, roles *RoleResolver, p Provisioner, logger *slog.Logger, opts ...BridgeOption) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		cfg:         cfg,
		userID:      userID,
		api:         api,
		messenger:   messenger,
		roles:       roles,
		provisioner: p,
		events:      dedupe.NewEvents(dedupeTTL, dedupeSize),
		logger:      logger.With("component", "matrix"),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run syncs with the homeserver until ctx is cancelled, then waits for in-flight
// commands to finish.
func (b *Bridge) Run(ctx context.Context, client *mautrix.Client) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.userID.String(),
		"allowed_rooms", len(b.cfg.AllowedRooms),
	)
	b.ctx = context.WithoutCancel(ctx)

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, b.HandleMessage)
	syncer.OnEventType(event.StateMember, b.HandleMembership)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- client.SyncWithContext(ctx)
	}()
	b.logger.Info("matrix bridge running")

	var err error
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
	case err = <-syncErr:
		if err != nil && ctx.Err() == nil {
			err = fmt.Errorf("matrix sync failed: %w", err)
		} else {
			err = nil
		}
	}

	b.Wait()
	return err
}

// Wait blocks until every command goroutine has returned.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// HandleMessage processes one m.room.message event.
func (b *Bridge) HandleMessage(_ context.Context, evt *event.Event) {
	if evt.Sender == b.userID {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	// Edits must not re-run a command.
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}
	if !b.roomAllowed(evt.RoomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return
	}

	cmd, ok := ParseCommand(content.Body, b.cfg.CommandPrefix)
	if !ok {
		return
	}
	if b.events.Seen(evt.ID.String()) {
		b.logger.Debug("ignoring duplicate event", "event_id", evt.ID.String())
		if b.recorder != nil {
			b.recorder.DuplicateEvent()
		}
		return
	}

	origin := notify.Origin{Room: evt.RoomID.String(), EventID: evt.ID.String()}
	switch {
	case cmd.IsProvisioning():
		b.logger.Info("received provisioning command",
			"room", origin.Room,
			"sender", evt.Sender.String(),
			"command", cmd.Name,
			"args", len(cmd.Args),
		)
		b.count(CommandCreateVPS)
		b.spawn(func(ctx context.Context) { b.provision(ctx, evt, cmd) })
	case cmd.Name == CommandPing:
		b.count(CommandPing)
		b.spawn(func(ctx context.Context) { b.reply(ctx, origin, msgPong) })
	case cmd.Name == CommandHelp:
		b.count(CommandHelp)
		b.spawn(func(ctx context.Context) { b.reply(ctx, origin, helpText(b.cfg.CommandPrefix, b.history != nil)) })
	case cmd.IsHistory():
		b.count(cmd.Name)
		b.spawn(func(ctx context.Context) { b.showHistory(ctx, evt, cmd) })
	default:
		b.logger.Debug("ignoring unknown command", "command", cmd.Name, "room", origin.Room)
	}
}

// HandleMembership joins rooms the bot is invited to when auto-join is enabled.
func (b *Bridge) HandleMembership(ctx context.Context, evt *event.Event) {
	if !b.cfg.AutoJoin || evt.GetStateKey() != b.userID.String() {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if !b.roomAllowed(evt.RoomID) {
		b.logger.Info("ignoring invite to non-allowed room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.api.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

func (b *Bridge) provision(ctx context.Context, evt *event.Event, cmd Command) {
	lookupCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	roles, err := b.roles.Resolve(lookupCtx, b.api, evt.RoomID, evt.Sender)
	name := b.displayName(lookupCtx, evt.RoomID, evt.Sender)
	cancel()
	if err != nil {
		b.logger.Warn("role lookup incomplete", "room", evt.RoomID.String(), "sender", evt.Sender.String(), "error", err)
	}

	out := b.provisioner.Handle(ctx, coordinator.Invocation{
		Origin:    notify.Origin{Room: evt.RoomID.String(), EventID: evt.ID.String()},
		Requester: notify.Requester{ID: evt.Sender.String(), Name: name},
		Roles:     roles,
		Args:      cmd.Args,
	})
	b.logger.Debug("provisioning command finished", "request_id", out.RequestID, "state", out.State.String())
}

// displayName returns the sender's room display name, or their localpart.
func (b *Bridge) displayName(ctx context.Context, room id.RoomID, user id.UserID) string {
	var member event.MemberEventContent
	if err := b.api.StateEvent(ctx, room, event.StateMember, user.String(), &member); err == nil && member.Displayname != "" {
		return member.Displayname
	}
	return localpart(user)
}

func (b *Bridge) reply(ctx context.Context, origin notify.Origin, text string) {
	if err := b.messenger.Reply(ctx, origin, text); err != nil {
		b.logger.Error("failed to send reply", "room", origin.Room, "error", err)
	}
}

func (b *Bridge) spawn(f func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("command handler panicked", "panic", r)
			}
		}()
		f(b.ctx)
	}()
}

func (b *Bridge) count(command string) {
	if b.recorder != nil {
		b.recorder.CommandReceived(command)
	}
}

func (b *Bridge) roomAllowed(room id.RoomID) bool {
	return len(b.cfg.AllowedRooms) == 0 || slices.Contains(b.cfg.AllowedRooms, room.String())
}

func localpart(user id.UserID) string {
	s := strings.TrimPrefix(user.String(), "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// ABOUTME: Chat commands that read the provisioning ledger
// ABOUTME: !requests lists recent requests and !request shows one; both need an authorized role

package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/2389/vpsbot/internal/auth"
	"github.com/2389/vpsbot/internal/coordinator"
	"github.com/2389/vpsbot/internal/notify"
	"github.com/2389/vpsbot/internal/store"
)

// RequestHistory reads recorded provisioning requests. *store.SQLiteStore
// implements it.
type RequestHistory interface {
	ListRequests(ctx context.Context, f store.RequestFilter) ([]store.Request, error)
	GetRequest(ctx context.Context, id string) (*store.Request, error)
}

// historyLimit is how many rows !requests shows.
const historyLimit = 10

const historyTimeLayout = "2006-01-02 15:04 UTC"

const (
	msgHistoryDisabled = "Request history is not enabled on this bot."
	msgHistoryDenied   = "You are not authorized to view request history."
	msgHistoryFailed   = "Could not read request history."
)

const (
	requestsUsage = CommandRequests + " [@user] [state]"
	requestUsage  = CommandRequest + " <request-id>"
)

var errHistoryUsage = errors.New("invalid history arguments")

// WithHistory enables the history commands for holders of authorizedRoles.
func WithHistory(h RequestHistory, authorizedRoles []string) BridgeOption {
	return func(b *Bridge) {
		b.history = h
		b.historyRoles = authorizedRoles
	}
}

func (b *Bridge) showHistory(ctx context.Context, evt *event.Event, cmd Command) {
	origin := notify.Origin{Room: evt.RoomID.String(), EventID: evt.ID.String()}
	if b.history == nil {
		b.reply(ctx, origin, msgHistoryDisabled)
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	roles, err := b.roles.Resolve(lookupCtx, b.api, evt.RoomID, evt.Sender)
	if err != nil {
		b.logger.Warn("role lookup incomplete", "room", evt.RoomID.String(), "sender", evt.Sender.String(), "error", err)
	}
	if d := auth.Check(roles, b.historyRoles); !d.Allowed {
		b.logger.Warn("history request rejected", "sender", evt.Sender.String(), "reason", d.Reason)
		b.reply(ctx, origin, msgHistoryDenied)
		return
	}

	var text string
	if cmd.Name == CommandRequest {
		text, err = b.requestDetail(lookupCtx, cmd.Args)
	} else {
		text, err = b.requestList(lookupCtx, cmd.Args)
	}
	switch {
	case errors.Is(err, errHistoryUsage):
		text = fmt.Sprintf("%v\nUsage: %s%s or %s%s", err, b.cfg.CommandPrefix, requestsUsage, b.cfg.CommandPrefix, requestUsage)
	case err != nil:
		b.logger.Error("failed to read request history", "error", err)
		text = msgHistoryFailed
	}
	b.reply(ctx, origin, text)
}

func (b *Bridge) requestList(ctx context.Context, args []string) (string, error) {
	f, err := parseHistoryFilter(args)
	if err != nil {
		return "", err
	}
	rows, err := b.history.ListRequests(ctx, f)
	if err != nil {
		return "", err
	}
	return formatRequestList(rows), nil
}

func (b *Bridge) requestDetail(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: expected one request id", errHistoryUsage)
	}
	r, err := b.history.GetRequest(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("No request with id `%s`.", args[0]), nil
	}
	if err != nil {
		return "", err
	}
	return formatRequestDetail(r), nil
}

// parseHistoryFilter accepts an optional user id and an optional terminal state,
// in any order.
func parseHistoryFilter(args []string) (store.RequestFilter, error) {
	f := store.RequestFilter{Limit: historyLimit}
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "@") && f.RequesterID == nil:
			user := arg
			f.RequesterID = &user
		case isTerminalState(arg) && f.State == nil:
			state := arg
			f.State = &state
		default:
			return store.RequestFilter{}, fmt.Errorf("%w: unexpected argument %q", errHistoryUsage, arg)
		}
	}
	return f, nil
}

func isTerminalState(name string) bool {
	for s := coordinator.Received; s <= coordinator.Reported; s++ {
		if s.Terminal() && s.String() == name {
			return true
		}
	}
	return false
}

func formatRequestList(rows []store.Request) string {
	if len(rows) == 0 {
		return "No matching requests."
	}
	var b strings.Builder
	b.WriteString("**Recent requests** (newest first)\n\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "- `%s` %s %s: %s, %s\n",
			r.ID, r.CreatedAt.UTC().Format(historyTimeLayout), r.RequesterID, guestLabel(r), r.State)
	}
	return b.String()
}

func formatRequestDetail(r *store.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Request** `%s`\n\n", r.ID)
	fmt.Fprintf(&b, "- Requester: %s\n", r.RequesterID)
	fmt.Fprintf(&b, "- Room: %s\n", r.Room)
	fmt.Fprintf(&b, "- State: %s\n", r.State)
	if r.GuestID > 0 {
		fmt.Fprintf(&b, "- Guest: %s, %d MB, %d cores, disk %s\n", guestLabel(*r), r.MemoryMB, r.Cores, r.Disk)
	}
	if r.ExitStatus != nil {
		fmt.Fprintf(&b, "- Exit status: %d\n", *r.ExitStatus)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", r.Error)
	}
	fmt.Fprintf(&b, "- Created: %s\n", r.CreatedAt.UTC().Format(historyTimeLayout))
	fmt.Fprintf(&b, "- Duration: %s\n", r.CompletedAt.Sub(r.CreatedAt).Round(time.Second))
	return b.String()
}

func guestLabel(r store.Request) string {
	if r.GuestID == 0 {
		return "no guest"
	}
	return fmt.Sprintf("**%s** (guest %d)", r.Customer, r.GuestID)
}

// ABOUTME: Startup seeding of the guest id allocator from the Proxmox cluster
// ABOUTME: Runs once before any request so ids start past those already in use

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/vpsbot/internal/provision"
)

// SeedGuestIDs asks the host for its next free guest id and advances ids to it.
func SeedGuestIDs(ctx context.Context, exec Executor, ids *provision.Allocator, logger *slog.Logger) error {
	res, err := exec.Execute(ctx, provision.NextIDCommand())
	if err != nil {
		return fmt.Errorf("querying next guest id: %w", err)
	}
	if !res.ExitSucceeded {
		return fmt.Errorf("querying next guest id: exit status %d: %s", res.ExitStatus, strings.TrimSpace(res.Stderr))
	}

	next, err := provision.ParseNextID(res.Stdout)
	if err != nil {
		return err
	}
	ids.Advance(next)
	logger.Info("guest ids seeded from host", "next_id", ids.Peek())
	return nil
}

// GuestIDHistory reports the highest guest id handed out in earlier runs.
type GuestIDHistory interface {
	HighestGuestID(ctx context.Context) (int, error)
}

// SeedFromHistory advances ids past every id recorded in h.
func SeedFromHistory(ctx context.Context, h GuestIDHistory, ids *provision.Allocator, logger *slog.Logger) error {
	highest, err := h.HighestGuestID(ctx)
	if err != nil {
		return fmt.Errorf("reading guest id history: %w", err)
	}
	if highest > 0 {
		ids.Advance(highest + 1)
		logger.Info("guest ids advanced past recorded requests", "highest_recorded", highest, "next_id", ids.Peek())
	}
	return nil
}
